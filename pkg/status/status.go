// Package status carries the closed set of outcome codes surfaced by the
// pipeline execution core, distinct from the Go error values used for
// unexpected/internal failures.
package status

import (
	"errors"
	"fmt"
)

// Code is one of the closed set of pipeline-execution outcome codes.
// The zero value is OK.
type Code int

const (
	OK Code = iota

	PipelineDefinitionAlreadyExist
	PipelineDefinitionNameMissing
	PipelineDefinitionNotLoadedYet
	PipelineDefinitionNotLoadedAnymore

	NodeLibraryMissingSymbols
	NodeLibraryInvalidPath
	NodeLibraryExecutionFailed
	NodeLibraryOutputsCorrupted
	NodeLibraryOutputsCorruptedCount
	NodeLibraryMissingOutput
	NodeLibraryInvalidPrecision
	NodeLibraryInvalidShape
	NodeLibraryInvalidContentSize

	ModelMissing
	ModelVersionMissing
	InferenceFailed

	WeightBlobNotFound
	WeightBlobHashMismatch

	DemultiplexerLimitExceeded
	DemultiplexerShardCountMismatch
	DeadlineExceeded

	UnknownError
)

var names = map[Code]string{
	OK:                                 "OK",
	PipelineDefinitionAlreadyExist:     "PIPELINE_DEFINITION_ALREADY_EXIST",
	PipelineDefinitionNameMissing:      "PIPELINE_DEFINITION_NAME_MISSING",
	PipelineDefinitionNotLoadedYet:     "PIPELINE_DEFINITION_NOT_LOADED_YET",
	PipelineDefinitionNotLoadedAnymore: "PIPELINE_DEFINITION_NOT_LOADED_ANYMORE",
	NodeLibraryMissingSymbols:          "NODE_LIBRARY_MISSING_SYMBOLS",
	NodeLibraryInvalidPath:             "NODE_LIBRARY_INVALID_PATH",
	NodeLibraryExecutionFailed:         "NODE_LIBRARY_EXECUTION_FAILED",
	NodeLibraryOutputsCorrupted:        "NODE_LIBRARY_OUTPUTS_CORRUPTED",
	NodeLibraryOutputsCorruptedCount:   "NODE_LIBRARY_OUTPUTS_CORRUPTED_COUNT",
	NodeLibraryMissingOutput:           "NODE_LIBRARY_MISSING_OUTPUT",
	NodeLibraryInvalidPrecision:        "NODE_LIBRARY_INVALID_PRECISION",
	NodeLibraryInvalidShape:            "NODE_LIBRARY_INVALID_SHAPE",
	NodeLibraryInvalidContentSize:      "NODE_LIBRARY_INVALID_CONTENT_SIZE",
	ModelMissing:                       "MODEL_MISSING",
	ModelVersionMissing:                "MODEL_VERSION_MISSING",
	InferenceFailed:                    "INFERENCE_FAILED",
	WeightBlobNotFound:                 "WEIGHT_BLOB_NOT_FOUND",
	WeightBlobHashMismatch:             "WEIGHT_BLOB_HASH_MISMATCH",
	DemultiplexerLimitExceeded:         "DEMULTIPLEXER_LIMIT_EXCEEDED",
	DemultiplexerShardCountMismatch:    "DEMULTIPLEXER_SHARD_COUNT_MISMATCH",
	DeadlineExceeded:                   "DEADLINE_EXCEEDED",
	UnknownError:                       "UNKNOWN_ERROR",
}

func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Status is a code plus an optional human-readable detail. It implements
// error so it composes naturally with fmt.Errorf's %w, but callers that
// need to branch on the outcome should type-assert back to *Status (or
// use Of) rather than string-matching Error().
type Status struct {
	Code    Code
	Message string
}

func New(code Code, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (s *Status) Error() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

func (s *Status) Ok() bool {
	return s == nil || s.Code == OK
}

// Of unwraps err looking for a *Status, reporting UnknownError if err is
// a plain error and OK if err is nil.
func Of(err error) *Status {
	if err == nil {
		return nil
	}
	var st *Status
	if errors.As(err, &st) {
		return st
	}
	return &Status{Code: UnknownError, Message: err.Error()}
}
