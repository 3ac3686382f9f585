package resume

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrTruncatedState is returned when the record ends mid-field.
	ErrTruncatedState = errors.New("resume state is truncated")
	// ErrCorruptState is returned for malformed or inconsistent records.
	ErrCorruptState = errors.New("resume state is corrupt")
)

// formatVersion is written as field 1 so layouts can be told apart. Version
// 1 always wrote the error timestamp and used 0 for the zero time.
const (
	formatVersion       = 2
	formatVersionLegacy = 1
)

// Field numbers of the State message. The layout is protobuf wire format so
// `protoc --decode_raw < .state` can inspect a record.
const (
	fieldVersion                protowire.Number = 1
	fieldWorkflowSlug           protowire.Number = 2
	fieldWorkflowPath           protowire.Number = 3
	fieldProjectID              protowire.Number = 4
	fieldProjectSlug            protowire.Number = 5
	fieldFailedActionIndex      protowire.Number = 6
	fieldFailedActionName       protowire.Number = 7
	fieldCompletedActionIndices protowire.Number = 8
	fieldStartingCommit         protowire.Number = 9
	fieldHasRepositoryChanges   protowire.Number = 10
	fieldGitHubRepository       protowire.Number = 11
	fieldErrorMessage           protowire.Number = 12
	fieldErrorTimestamp         protowire.Number = 13
	fieldPreservedDirectoryPath protowire.Number = 14
	fieldConfigurationHash      protowire.Number = 15
	fieldPullRequestNumber      protowire.Number = 16
	fieldPullRequestBranch      protowire.Number = 17
)

// Field numbers of the nested Repository message.
const (
	repoID            protowire.Number = 1
	repoName          protowire.Number = 2
	repoFullName      protowire.Number = 3
	repoOwnerLogin    protowire.Number = 4
	repoDefaultBranch protowire.Number = 5
	repoHTMLURL       protowire.Number = 6
	repoCloneURL      protowire.Number = 7
	repoSSHURL        protowire.Number = 8
	repoPrivate       protowire.Number = 9
	repoArchived      protowire.Number = 10
)

// Marshal encodes s. Every scalar field is written, including zero values,
// so a decoded record can be checked for completeness. The completed indices
// are omitted when nil and the error timestamp when zero.
func Marshal(s *State) []byte {
	var b []byte
	b = appendVarint(b, fieldVersion, formatVersion)
	b = appendString(b, fieldWorkflowSlug, s.WorkflowSlug)
	b = appendString(b, fieldWorkflowPath, s.WorkflowPath)
	b = appendVarint(b, fieldProjectID, uint64(s.ProjectID))
	b = appendString(b, fieldProjectSlug, s.ProjectSlug)
	b = appendVarint(b, fieldFailedActionIndex, uint64(s.FailedActionIndex))
	b = appendString(b, fieldFailedActionName, s.FailedActionName)

	if s.CompletedActionIndices != nil {
		var packed []byte
		for _, idx := range s.CompletedActionIndices {
			packed = protowire.AppendVarint(packed, uint64(idx))
		}
		b = protowire.AppendTag(b, fieldCompletedActionIndices, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	b = appendString(b, fieldStartingCommit, s.StartingCommit)
	b = appendVarint(b, fieldHasRepositoryChanges, protowire.EncodeBool(s.HasRepositoryChanges))
	if s.GitHubRepository != nil {
		b = protowire.AppendTag(b, fieldGitHubRepository, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRepository(s.GitHubRepository))
	}
	b = appendString(b, fieldErrorMessage, s.ErrorMessage)
	if !s.ErrorTimestamp.IsZero() {
		b = appendVarint(b, fieldErrorTimestamp, uint64(s.ErrorTimestamp.UnixNano()))
	}
	b = appendString(b, fieldPreservedDirectoryPath, s.PreservedDirectoryPath)
	b = appendString(b, fieldConfigurationHash, s.ConfigurationHash)
	b = appendVarint(b, fieldPullRequestNumber, uint64(s.PullRequestNumber))
	b = appendString(b, fieldPullRequestBranch, s.PullRequestBranch)
	return b
}

func marshalRepository(r *Repository) []byte {
	var b []byte
	b = appendVarint(b, repoID, uint64(r.ID))
	b = appendString(b, repoName, r.Name)
	b = appendString(b, repoFullName, r.FullName)
	b = appendString(b, repoOwnerLogin, r.OwnerLogin)
	b = appendString(b, repoDefaultBranch, r.DefaultBranch)
	b = appendString(b, repoHTMLURL, r.HTMLURL)
	b = appendString(b, repoCloneURL, r.CloneURL)
	b = appendString(b, repoSSHURL, r.SSHURL)
	b = appendVarint(b, repoPrivate, protowire.EncodeBool(r.Private))
	b = appendVarint(b, repoArchived, protowire.EncodeBool(r.Archived))
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// Unmarshal decodes a record produced by Marshal. Truncated input returns
// ErrTruncatedState; anything else malformed returns ErrCorruptState.
func Unmarshal(data []byte) (*State, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrTruncatedState)
	}

	s := &State{}
	version := uint64(0)
	seen := make(map[protowire.Number]bool)
	err := walk(data, func(num protowire.Number, typ protowire.Type, value []byte, varint uint64) error {
		if seen[num] {
			return fmt.Errorf("%w: field %d repeated", ErrCorruptState, num)
		}
		seen[num] = true

		switch num {
		case fieldVersion:
			if varint != formatVersion && varint != formatVersionLegacy {
				return fmt.Errorf("%w: unsupported version %d", ErrCorruptState, varint)
			}
			version = varint
		case fieldWorkflowSlug:
			s.WorkflowSlug = string(value)
		case fieldWorkflowPath:
			s.WorkflowPath = string(value)
		case fieldProjectID:
			s.ProjectID = int64(varint)
		case fieldProjectSlug:
			s.ProjectSlug = string(value)
		case fieldFailedActionIndex:
			idx, err := toInt(varint)
			if err != nil {
				return err
			}
			s.FailedActionIndex = idx
		case fieldFailedActionName:
			s.FailedActionName = string(value)
		case fieldCompletedActionIndices:
			indices, err := unpackIndices(value)
			if err != nil {
				return err
			}
			s.CompletedActionIndices = indices
		case fieldStartingCommit:
			s.StartingCommit = string(value)
		case fieldHasRepositoryChanges:
			s.HasRepositoryChanges = protowire.DecodeBool(varint)
		case fieldGitHubRepository:
			repo, err := unmarshalRepository(value)
			if err != nil {
				return err
			}
			s.GitHubRepository = repo
		case fieldErrorMessage:
			s.ErrorMessage = string(value)
		case fieldErrorTimestamp:
			if version != formatVersionLegacy || varint != 0 {
				s.ErrorTimestamp = time.Unix(0, int64(varint)).UTC()
			}
		case fieldPreservedDirectoryPath:
			s.PreservedDirectoryPath = string(value)
		case fieldConfigurationHash:
			s.ConfigurationHash = string(value)
		case fieldPullRequestNumber:
			n, err := toInt(varint)
			if err != nil {
				return err
			}
			s.PullRequestNumber = n
		case fieldPullRequestBranch:
			s.PullRequestBranch = string(value)
		default:
			return fmt.Errorf("%w: unknown field %d", ErrCorruptState, num)
		}
		return checkType(num, typ)
	})
	if err != nil {
		return nil, err
	}

	// Every scalar field is always written; a missing one means the record
	// was cut at a field boundary.
	for num := fieldVersion; num <= fieldPullRequestBranch; num++ {
		if optionalField(num, version) {
			continue
		}
		if !seen[num] {
			return nil, fmt.Errorf("%w: field %d missing", ErrTruncatedState, num)
		}
	}
	return s, nil
}

func optionalField(num protowire.Number, version uint64) bool {
	switch num {
	case fieldGitHubRepository:
		return true
	case fieldCompletedActionIndices, fieldErrorTimestamp:
		return version != formatVersionLegacy
	default:
		return false
	}
}

func unmarshalRepository(data []byte) (*Repository, error) {
	r := &Repository{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, value []byte, varint uint64) error {
		switch num {
		case repoID:
			r.ID = int64(varint)
		case repoName:
			r.Name = string(value)
		case repoFullName:
			r.FullName = string(value)
		case repoOwnerLogin:
			r.OwnerLogin = string(value)
		case repoDefaultBranch:
			r.DefaultBranch = string(value)
		case repoHTMLURL:
			r.HTMLURL = string(value)
		case repoCloneURL:
			r.CloneURL = string(value)
		case repoSSHURL:
			r.SSHURL = string(value)
		case repoPrivate:
			r.Private = protowire.DecodeBool(varint)
		case repoArchived:
			r.Archived = protowire.DecodeBool(varint)
		default:
			return fmt.Errorf("%w: unknown repository field %d", ErrCorruptState, num)
		}
		wantVarint := num == repoID || num == repoPrivate || num == repoArchived
		if wantVarint != (typ == protowire.VarintType) {
			return fmt.Errorf("%w: repository field %d has wire type %d", ErrCorruptState, num, typ)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// walk iterates the fields of a message, translating protowire parse errors.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, value []byte, varint uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return parseError(n)
		}
		data = data[n:]

		var value []byte
		var varint uint64
		switch typ {
		case protowire.VarintType:
			varint, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			value, n = protowire.ConsumeBytes(data)
		default:
			return fmt.Errorf("%w: field %d has unsupported wire type %d", ErrCorruptState, num, typ)
		}
		if n < 0 {
			return parseError(n)
		}
		data = data[n:]

		if err := fn(num, typ, value, varint); err != nil {
			return err
		}
	}
	return nil
}

func parseError(n int) error {
	err := protowire.ParseError(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncatedState, err)
	}
	return fmt.Errorf("%w: %v", ErrCorruptState, err)
}

func checkType(num protowire.Number, typ protowire.Type) error {
	var want protowire.Type
	switch num {
	case fieldVersion, fieldProjectID, fieldFailedActionIndex, fieldHasRepositoryChanges,
		fieldErrorTimestamp, fieldPullRequestNumber:
		want = protowire.VarintType
	default:
		want = protowire.BytesType
	}
	if typ != want {
		return fmt.Errorf("%w: field %d has wire type %d", ErrCorruptState, num, typ)
	}
	return nil
}

func unpackIndices(data []byte) ([]int, error) {
	indices := []int{}
	for len(data) > 0 {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, parseError(n)
		}
		idx, err := toInt(v)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
		data = data[n:]
	}
	return indices, nil
}

func toInt(v uint64) (int, error) {
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: index %d out of range", ErrCorruptState, v)
	}
	return int(v), nil
}
