// Package status defines the {major, minor} error taxonomy the cache's
// operation surface returns (spec §6.1, §7). Every method on cache.Entry
// returns a Status rather than a bare error so callers can switch
// exhaustively over Major.
package status

import "fmt"

// Major is the coarse-grained outcome of a cache operation. The set is
// fixed and exhaustive; see spec §6.1.
type Major int

const (
	OK Major = iota
	NoEnt
	Exist
	Access
	IO
	NotDir
	IsDir
	NotEmpty
	XDev
	Inval
	Stale
	BadCookie
	NoMem
	Overflow
	ServerFault
	Delay
	BadHandle
)

func (m Major) String() string {
	switch m {
	case OK:
		return "OK"
	case NoEnt:
		return "NOENT"
	case Exist:
		return "EXIST"
	case Access:
		return "ACCESS"
	case IO:
		return "IO"
	case NotDir:
		return "NOTDIR"
	case IsDir:
		return "ISDIR"
	case NotEmpty:
		return "NOTEMPTY"
	case XDev:
		return "XDEV"
	case Inval:
		return "INVAL"
	case Stale:
		return "STALE"
	case BadCookie:
		return "BADCOOKIE"
	case NoMem:
		return "NOMEM"
	case Overflow:
		return "OVERFLOW"
	case ServerFault:
		return "SERVERFAULT"
	case Delay:
		return "DELAY"
	case BadHandle:
		return "BADHANDLE"
	default:
		return fmt.Sprintf("Major(%d)", int(m))
	}
}

// Status is the {major, minor} pair every cache operation returns. Minor
// carries the underlying sub-provider error, if any, for logging; Major is
// what callers should branch on.
type Status struct {
	Major Major
	Minor error
}

// Error implements the error interface so a Status composes with ordinary
// Go error handling at package boundaries, without callers needing to know
// about Status specifically.
func (s Status) Error() string {
	if s.Minor != nil {
		return fmt.Sprintf("%s: %v", s.Major, s.Minor)
	}
	return s.Major.String()
}

// Ok reports whether the status represents success.
func (s Status) Ok() bool {
	return s.Major == OK
}

func New(major Major, minor error) Status { return Status{Major: major, Minor: minor} }

func Ok() Status                        { return Status{Major: OK} }
func NotFound() Status                  { return Status{Major: NoEnt} }
func NotFoundf(format string, a ...any) Status {
	return Status{Major: NoEnt, Minor: fmt.Errorf(format, a...)}
}
func Exists() Status                    { return Status{Major: Exist} }
func AccessDenied() Status              { return Status{Major: Access} }
func IOError(err error) Status          { return Status{Major: IO, Minor: err} }
func NotADirectory() Status             { return Status{Major: NotDir} }
func IsADirectory() Status              { return Status{Major: IsDir} }
func DirNotEmpty() Status               { return Status{Major: NotEmpty} }
func CrossDevice() Status               { return Status{Major: XDev} }
func Invalid(err error) Status          { return Status{Major: Inval, Minor: err} }
func StaleHandle() Status               { return Status{Major: Stale} }
func BadDirCookie() Status              { return Status{Major: BadCookie} }
func OutOfMemory() Status               { return Status{Major: NoMem} }
func DirOverflow() Status               { return Status{Major: Overflow} }
func ServerFaultErr(err error) Status   { return Status{Major: ServerFault, Minor: err} }
func TryAgain() Status                  { return Status{Major: Delay} }
func BadHandleErr() Status              { return Status{Major: BadHandle} }

// FromProviderError classifies an error returned by a sub-provider call
// using the small set of sentinel errors the provider package defines,
// falling back to IO for anything unrecognized (spec §7: "sub-provider
// errors bubble up unchanged").
func FromProviderError(err error) Status {
	if err == nil {
		return Ok()
	}
	if c, ok := err.(interface{ Major() Major }); ok {
		return Status{Major: c.Major(), Minor: err}
	}
	return IOError(err)
}
