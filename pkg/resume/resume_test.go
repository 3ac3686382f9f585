package resume

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *State {
	return &State{
		WorkflowSlug:           "update-python",
		WorkflowPath:           "/workflows/update-python",
		ProjectID:              4821,
		ProjectSlug:            "billing-api",
		FailedActionIndex:      3,
		FailedActionName:       "run-tests",
		CompletedActionIndices: []int{1, 2},
		StartingCommit:         "0123456789abcdef0123456789abcdef01234567",
		HasRepositoryChanges:   true,
		GitHubRepository: &Repository{
			ID:            99,
			Name:          "billing-api",
			FullName:      "acme/billing-api",
			OwnerLogin:    "acme",
			DefaultBranch: "main",
			HTMLURL:       "https://github.com/acme/billing-api",
			CloneURL:      "https://github.com/acme/billing-api.git",
			SSHURL:        "git@github.com:acme/billing-api.git",
			Private:       true,
		},
		ErrorMessage:           "Claude Code action run-tests failed after 3 cycles (category: test_failure)",
		ErrorTimestamp:         time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC),
		PreservedDirectoryPath: "/errors/update-python/billing-api-20260304-050607",
		ConfigurationHash:      "abc123",
		PullRequestNumber:      17,
		PullRequestBranch:      "imbi-automations/update-python",
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		state *State
	}{
		{name: "full", state: sampleState()},
		{name: "without repository", state: func() *State {
			s := sampleState()
			s.GitHubRepository = nil
			s.CompletedActionIndices = []int{}
			s.ErrorTimestamp = time.Time{}
			return s
		}()},
		{name: "epoch timestamp and nil indices", state: func() *State {
			s := sampleState()
			s.CompletedActionIndices = nil
			s.ErrorTimestamp = time.Unix(0, 0).UTC()
			return s
		}()},
		{name: "zero values", state: &State{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := Unmarshal(Marshal(tt.state))
			require.NoError(t, err)
			assert.Equal(t, tt.state, decoded)
		})
	}
}

func TestRoundTripKeepsEdgeValues(t *testing.T) {
	epoch := sampleState()
	epoch.ErrorTimestamp = time.Unix(0, 0).UTC()
	epoch.CompletedActionIndices = nil

	decoded, err := Unmarshal(Marshal(epoch))
	require.NoError(t, err)
	assert.False(t, decoded.ErrorTimestamp.IsZero())
	assert.True(t, decoded.ErrorTimestamp.Equal(time.Unix(0, 0)))
	assert.Nil(t, decoded.CompletedActionIndices)

	empty := sampleState()
	empty.CompletedActionIndices = []int{}
	decoded, err = Unmarshal(Marshal(empty))
	require.NoError(t, err)
	assert.NotNil(t, decoded.CompletedActionIndices)
	assert.Empty(t, decoded.CompletedActionIndices)
}

// legacyRecord encodes a version 1 record, which always carried the error
// timestamp and the completed indices.
func legacyRecord(withTimestamp bool) []byte {
	var b []byte
	b = appendVarint(b, fieldVersion, formatVersionLegacy)
	b = appendString(b, fieldWorkflowSlug, "update-python")
	b = appendString(b, fieldWorkflowPath, "/workflows/update-python")
	b = appendVarint(b, fieldProjectID, 4821)
	b = appendString(b, fieldProjectSlug, "billing-api")
	b = appendVarint(b, fieldFailedActionIndex, 1)
	b = appendString(b, fieldFailedActionName, "bump")
	b = appendString(b, fieldCompletedActionIndices, "\x00")
	b = appendString(b, fieldStartingCommit, "abc")
	b = appendVarint(b, fieldHasRepositoryChanges, 0)
	b = appendString(b, fieldErrorMessage, "boom")
	if withTimestamp {
		b = appendVarint(b, fieldErrorTimestamp, 0)
	}
	b = appendString(b, fieldPreservedDirectoryPath, "")
	b = appendString(b, fieldConfigurationHash, "")
	b = appendVarint(b, fieldPullRequestNumber, 0)
	b = appendString(b, fieldPullRequestBranch, "")
	return b
}

func TestUnmarshalVersionOneRecord(t *testing.T) {
	decoded, err := Unmarshal(legacyRecord(true))
	require.NoError(t, err)
	assert.True(t, decoded.ErrorTimestamp.IsZero())
	assert.Equal(t, []int{0}, decoded.CompletedActionIndices)
	assert.Equal(t, 1, decoded.FailedActionIndex)

	_, err = Unmarshal(legacyRecord(false))
	assert.ErrorIs(t, err, ErrTruncatedState)
}

func TestUnmarshalTruncated(t *testing.T) {
	data := Marshal(sampleState())

	// Every proper prefix must be rejected, never silently decoded.
	for cut := 0; cut < len(data); cut++ {
		_, err := Unmarshal(data[:cut])
		require.Error(t, err, "prefix of %d bytes decoded", cut)
		assert.True(t, errors.Is(err, ErrTruncatedState) || errors.Is(err, ErrCorruptState),
			"prefix of %d bytes: %v", cut, err)
	}

	_, err := Unmarshal(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrTruncatedState)
}

func TestUnmarshalCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "unknown field", data: append(Marshal(sampleState()), 0xF8, 0x01, 0x00)},
		{name: "bad wire type", data: []byte{0x0B}},
		{name: "repeated field", data: append(Marshal(sampleState()), Marshal(sampleState())[:2]...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			assert.ErrorIs(t, err, ErrCorruptState)
		})
	}
}

func TestReadWrite(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(dir)
	assert.ErrorIs(t, err, ErrMissingStateFile)

	require.NoError(t, Write(dir, sampleState()))
	state, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, sampleState(), state)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{\"json\": true}"), 0600))
	_, err = Read(dir)
	require.Error(t, err)
}

func TestLock(t *testing.T) {
	dir := t.TempDir()

	unlock, err := Lock(dir)
	require.NoError(t, err)

	_, err = Lock(dir)
	assert.ErrorIs(t, err, ErrLocked)

	unlock()
	unlock2, err := Lock(dir)
	require.NoError(t, err)
	unlock2()
}

func TestCompletedRange(t *testing.T) {
	assert.Equal(t, []int{0, 1}, CompletedRange(0, 2))
	assert.Equal(t, []int{2, 3, 4}, CompletedRange(2, 5))
	assert.Equal(t, []int{}, CompletedRange(3, 3))
}
