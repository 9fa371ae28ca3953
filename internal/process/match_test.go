package process

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svcdeck/internal/service"
)

type fakeHandle struct {
	pid     int32
	args    []string
	argsErr error
	descErr error
}

func (h fakeHandle) Pid() int32 { return h.pid }
func (h fakeHandle) Cmdline(context.Context) ([]string, error) {
	return h.args, h.argsErr
}
func (h fakeHandle) Describe(context.Context) (Match, error) {
	if h.descErr != nil {
		return Match{}, h.descErr
	}
	return Match{PID: h.pid, Name: h.args[0], MemoryBytes: 1024}, nil
}

type fakeSource struct {
	handles []Handle
	err     error
	calls   int
}

func (s *fakeSource) Processes(context.Context) ([]Handle, error) {
	s.calls++
	return s.handles, s.err
}

func TestMatchEmptyKeywordsMatchesNothing(t *testing.T) {
	src := &fakeSource{handles: []Handle{fakeHandle{pid: 1, args: []string{"anything"}}}}
	m := NewMatcher(src)
	assert.Empty(t, m.Match(context.Background(), service.Spec{Name: "x"}))
	assert.Equal(t, 0, src.calls, "process table must not be enumerated without keywords")
}

func TestMatchRequiresEveryKeywordCaseInsensitive(t *testing.T) {
	src := &fakeSource{handles: []Handle{
		fakeHandle{pid: 10, args: []string{"python", "-m", "Uvicorn", "main:app", "--port", "8000"}},
		fakeHandle{pid: 11, args: []string{"uvicorn", "other:app"}},
		fakeHandle{pid: 12, args: []string{"node", "server.js"}},
	}}
	m := NewMatcher(src)
	got := m.Match(context.Background(), service.Spec{MatchKeywords: []string{"UVICORN", "main:app"}})
	require.Len(t, got, 1)
	assert.Equal(t, int32(10), got[0].PID)
	assert.Equal(t, uint64(1024), got[0].MemoryBytes)
}

func TestMatchSkipsVanishedAndDeniedProcesses(t *testing.T) {
	src := &fakeSource{handles: []Handle{
		fakeHandle{pid: 20, argsErr: errors.New("permission denied")},
		fakeHandle{pid: 21, args: []string{"worker", "--queue"}, descErr: errors.New("no such process")},
		fakeHandle{pid: 22, args: []string{"worker", "--queue"}},
	}}
	got := NewMatcher(src).Match(context.Background(), service.Spec{MatchKeywords: []string{"worker"}})
	assert.Equal(t, []int32{22}, PIDs(got))
}

func TestMatchEnumerationErrorYieldsEmpty(t *testing.T) {
	src := &fakeSource{err: errors.New("proc unavailable")}
	assert.Empty(t, NewMatcher(src).Match(context.Background(), service.Spec{MatchKeywords: []string{"x"}}))
}

func TestMatchFindsOwnTestBinary(t *testing.T) {
	// The test binary's own command line always contains ".test".
	got := NewMatcher(nil).Match(context.Background(), service.Spec{MatchKeywords: []string{".test"}})
	assert.NotEmpty(t, got)
}
