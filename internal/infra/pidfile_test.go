package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

func TestPIDFile(t *testing.T) {
	tests := []struct {
		name   string
		testFn func(t *testing.T, p *PIDFile)
	}{
		{
			name: "Get returns nil when nothing registered",
			testFn: func(t *testing.T, p *PIDFile) {
				d, err := p.Get()
				require.NoError(t, err)
				assert.Nil(t, d)

				alive, err := p.IsAlive()
				require.NoError(t, err)
				assert.False(t, alive)
			},
		},
		{
			name: "Register then Get",
			testFn: func(t *testing.T, p *PIDFile) {
				started := time.Unix(1_760_000_000, 0)
				require.NoError(t, p.Register(domain.Daemon{PID: 4242, StartedAt: started, AppVersion: "1.2.3"}))

				d, err := p.Get()
				require.NoError(t, err)
				require.NotNil(t, d)
				assert.Equal(t, 4242, d.PID)
				assert.True(t, started.Equal(d.StartedAt))
				assert.Equal(t, "1.2.3", d.AppVersion)
			},
		},
		{
			name: "IsAlive asks the process table",
			testFn: func(t *testing.T, p *PIDFile) {
				require.NoError(t, p.Register(domain.Daemon{PID: 4242, StartedAt: time.Now()}))

				var asked int32
				p.pidExists = func(pid int32) (bool, error) {
					asked = pid
					return true, nil
				}
				alive, err := p.IsAlive()
				require.NoError(t, err)
				assert.True(t, alive)
				assert.Equal(t, int32(4242), asked)

				p.pidExists = func(int32) (bool, error) { return false, nil }
				alive, err = p.IsAlive()
				require.NoError(t, err)
				assert.False(t, alive)
			},
		},
		{
			name: "IsAlive surfaces lookup errors",
			testFn: func(t *testing.T, p *PIDFile) {
				require.NoError(t, p.Register(domain.Daemon{PID: 4242, StartedAt: time.Now()}))
				p.pidExists = func(int32) (bool, error) { return false, errors.New("no procfs") }

				_, err := p.IsAlive()
				assert.Error(t, err)
			},
		},
		{
			name: "current process is alive",
			testFn: func(t *testing.T, p *PIDFile) {
				require.NoError(t, p.Register(domain.Daemon{PID: os.Getpid(), StartedAt: time.Now()}))
				alive, err := p.IsAlive()
				require.NoError(t, err)
				assert.True(t, alive)
			},
		},
		{
			name: "Clear removes registration and is idempotent",
			testFn: func(t *testing.T, p *PIDFile) {
				require.NoError(t, p.Register(domain.Daemon{PID: 1, StartedAt: time.Now()}))
				require.NoError(t, p.Clear())
				require.NoError(t, p.Clear())

				d, err := p.Get()
				require.NoError(t, err)
				assert.Nil(t, d)
			},
		},
		{
			name: "corrupt file is an error",
			testFn: func(t *testing.T, p *PIDFile) {
				require.NoError(t, os.WriteFile(p.path, []byte("garbage"), 0600))
				_, err := p.Get()
				assert.Error(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPIDFileWithPath(filepath.Join(t.TempDir(), pidFileName))
			tt.testFn(t, p)
		})
	}
}
