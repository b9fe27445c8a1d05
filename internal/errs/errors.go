package errs

import "errors"

// Sentinel errors for every terminal failure class. Call sites wrap
// these with fmt.Errorf("%w: ...") so ExitCode can recover the class
// from anywhere in a chain.
var (
	ErrArgument           = errors.New("invalid argument")
	ErrDependencyMissing  = errors.New("required dependency missing")
	ErrPermission         = errors.New("permission denied")
	ErrAlreadyRunning     = errors.New("another run is already in progress")
	ErrServerUnreachable  = errors.New("database server unreachable")
	ErrDatabaseAccess     = errors.New("database access denied")
	ErrBinlogDisabled     = errors.New("binary logging is disabled on the server")
	ErrNoBinlogs          = errors.New("no binary logs found")
	ErrChainStructure     = errors.New("backup chain structure is broken")
	ErrNoCheckpoint       = errors.New("no checkpoint recorded for target")
	ErrBaseMissing        = errors.New("checkpoint references a missing base backup")
	ErrExecutionFull      = errors.New("full backup failed")
	ErrExecutionInc       = errors.New("incremental backup failed")
	ErrExecutionLog       = errors.New("binary log backup failed")
	ErrMount              = errors.New("mount failed")
	ErrUnmount            = errors.New("unmount failed")
	ErrWriteTest          = errors.New("write test on mount point failed")
)

// Exit codes form a flat, partitioned namespace:
// 0 success, 10-19 argument errors, 20-29 dependency/permission,
// 30-39 server/database reachability, 40-49 filesystem/chain structure,
// 50-59 per-mode execution, 60-69 mount/network.
const (
	CodeOK                = 0
	CodeArgument          = 10
	CodeDependencyMissing = 20
	CodePermission        = 21
	CodeAlreadyRunning    = 22
	CodeServerUnreachable = 30
	CodeDatabaseAccess    = 31
	CodeBinlogDisabled    = 32
	CodeNoBinlogs         = 33
	CodeChainStructure    = 40
	CodeNoCheckpoint      = 41
	CodeBaseMissing       = 42
	CodeExecutionFull     = 50
	CodeExecutionInc      = 51
	CodeExecutionLog      = 52
	CodeMount             = 60
	CodeUnmount           = 61
	CodeWriteTest         = 62
	CodeUnknown           = 1
)

// codeTable is ordered: the first matching sentinel wins, so the more
// specific chain-structure classes come before the generic one.
var codeTable = []struct {
	err  error
	code int
}{
	{ErrArgument, CodeArgument},
	{ErrDependencyMissing, CodeDependencyMissing},
	{ErrAlreadyRunning, CodeAlreadyRunning},
	{ErrPermission, CodePermission},
	{ErrServerUnreachable, CodeServerUnreachable},
	{ErrDatabaseAccess, CodeDatabaseAccess},
	{ErrBinlogDisabled, CodeBinlogDisabled},
	{ErrNoBinlogs, CodeNoBinlogs},
	{ErrNoCheckpoint, CodeNoCheckpoint},
	{ErrBaseMissing, CodeBaseMissing},
	{ErrChainStructure, CodeChainStructure},
	{ErrExecutionFull, CodeExecutionFull},
	{ErrExecutionInc, CodeExecutionInc},
	{ErrExecutionLog, CodeExecutionLog},
	{ErrWriteTest, CodeWriteTest},
	{ErrMount, CodeMount},
	{ErrUnmount, CodeUnmount},
}

// ExitCode maps err to the most specific exit code in the namespace.
// A nil error is success; an unclassified error reports CodeUnknown.
func ExitCode(err error) int {
	if err == nil {
		return CodeOK
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}
