package capabilities

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError_NilIsUnknown(t *testing.T) {
	assert.Equal(t, ErrorClassUnknown, ClassifyError(nil))
}

func TestClassifyError_DiskFull(t *testing.T) {
	assert.Equal(t, ErrorClassDiskFull, ClassifyError(syscall.ENOSPC))
	assert.Equal(t, ErrorClassDiskFull, ClassifyError(fmt.Errorf("write: %w", syscall.ENOSPC)))
	assert.Equal(t, ErrorClassDiskFull, ClassifyError(syscall.EDQUOT))
}

func TestClassifyError_StringFallbacks(t *testing.T) {
	assert.Equal(t, ErrorClassDiskFull, ClassifyError(errors.New("write /tmp/x: no space left on device")))
	assert.Equal(t, ErrorClassOutOfMemory, ClassifyError(errors.New("process killed: Out of Memory")))
	assert.Equal(t, ErrorClassTimeout, ClassifyError(errors.New("context deadline exceeded")))
	assert.Equal(t, ErrorClassTimeout, ClassifyError(errors.New("operation timeout after 30s")))
}

func TestClassifyError_UnknownFallback(t *testing.T) {
	assert.Equal(t, ErrorClassUnknown, ClassifyError(errors.New("some novel failure")))
}

func TestClassifyError_PlainExitStatusIsExitClass(t *testing.T) {
	cmd := exec.Command("false")
	err := cmd.Run()
	require.Error(t, err)
	assert.Equal(t, ErrorClassExitStatus, ClassifyError(err))
}

func TestClassifyError_SignalKilledIsOutOfMemory(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Process.Signal(syscall.SIGKILL))
	err := cmd.Wait()
	require.Error(t, err)
	assert.Equal(t, ErrorClassOutOfMemory, ClassifyError(err))
}
