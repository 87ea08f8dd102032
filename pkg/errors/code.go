package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Authentication & Session errors
// 12000-12999: Network & Transport errors
// 13000-13999: Scrape & Format errors
// 14000-14999: Submission errors
// 15000-15999: Test case store errors
// 16000-16999: Local execution errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalError ErrorCode = 10001
	InvalidParams ErrorCode = 10002
	NotFound      ErrorCode = 10003
	Canceled      ErrorCode = 10004
	Timeout       ErrorCode = 10005

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201
	LockFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301

	// ========== Authentication & Session Errors (11000-11999) ==========

	InvalidCredentials ErrorCode = 11000
	ChallengeRequired  ErrorCode = 11001
	SessionExpired     ErrorCode = 11002
	NotLoggedIn        ErrorCode = 11003
	CredentialsMissing ErrorCode = 11004

	// ========== Network & Transport Errors (12000-12999) ==========

	NetworkError        ErrorCode = 12000
	RetryExhausted      ErrorCode = 12001
	UnexpectedStatus    ErrorCode = 12002
	RateLimited         ErrorCode = 12003
	JudgeUnavailable    ErrorCode = 12004
	ResponseTooLarge    ErrorCode = 12005
	UnsupportedEncoding ErrorCode = 12006

	// ========== Scrape & Format Errors (13000-13999) ==========

	ScrapeError     ErrorCode = 13000
	MarkerMissing   ErrorCode = 13001
	ContestNotFound ErrorCode = 13002
	ProblemNotFound ErrorCode = 13003
	JudgeNotFound   ErrorCode = 13004

	// ========== Submission Errors (14000-14999) ==========

	SubmitRejected       ErrorCode = 14000
	LanguageNotSupported ErrorCode = 14001
	AlreadyAccepted      ErrorCode = 14002
	SubmissionNotFound   ErrorCode = 14003

	// ========== Test Case Store Errors (15000-15999) ==========

	TestCaseInvalid ErrorCode = 15000
	StoreWriteError ErrorCode = 15001
	StoreCorrupted  ErrorCode = 15002
	ArchiveInvalid  ErrorCode = 15003

	// ========== Local Execution Errors (16000-16999) ==========

	CommandNotFound  ErrorCode = 16000
	CompilationError ErrorCode = 16001
	ExecutionFailed  ErrorCode = 16002
	TestsFailed      ErrorCode = 16003
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:       "Success",
	InternalError: "Internal error",
	InvalidParams: "Invalid parameters",
	NotFound:      "Resource not found",
	Canceled:      "Operation canceled",
	Timeout:       "Operation timed out",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",

	// Authentication & Session
	InvalidCredentials: "Invalid username or password",
	ChallengeRequired:  "Judge requires a CAPTCHA or second factor, log in through a browser",
	SessionExpired:     "Session expired and re-login failed",
	NotLoggedIn:        "Not logged in",
	CredentialsMissing: "Credentials are required",

	// Network
	NetworkError:        "Could not reach the judge",
	RetryExhausted:      "Gave up after retrying the judge",
	UnexpectedStatus:    "Judge returned an unexpected HTTP status",
	RateLimited:         "Judge rate limited the request",
	JudgeUnavailable:    "Judge is temporarily unavailable",
	ResponseTooLarge:    "Judge response is too large",
	UnsupportedEncoding: "Judge response uses an unsupported encoding",

	// Scrape
	ScrapeError:     "Judge page format changed",
	MarkerMissing:   "Expected element is missing from the judge page",
	ContestNotFound: "Contest not found",
	ProblemNotFound: "Problem not found",
	JudgeNotFound:   "Unknown judge",

	// Submission
	SubmitRejected:       "Judge rejected the submission",
	LanguageNotSupported: "Programming language not supported",
	AlreadyAccepted:      "Problem already accepted",
	SubmissionNotFound:   "Submission not found",

	// Store
	TestCaseInvalid: "Invalid test case",
	StoreWriteError: "Failed to write test cases",
	StoreCorrupted:  "Cached test cases are corrupted",
	ArchiveInvalid:  "Invalid test case archive",

	// Execution
	CommandNotFound:  "Command not found",
	CompilationError: "Compilation error",
	ExecutionFailed:  "Failed to execute the solution",
	TestsFailed:      "Some tests failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Category groups error codes by who has to act on them.
type Category string

const (
	CategoryNone     Category = ""
	CategoryInternal Category = "internal"
	CategoryAuth     Category = "auth"
	CategoryNetwork  Category = "network"
	CategoryFormat   Category = "format"
	CategorySubmit   Category = "submit"
	CategoryStore    Category = "store"
	CategorySolution Category = "solution"
)

// Category returns the group the code belongs to.
func (c ErrorCode) Category() Category {
	switch {
	case c == Success:
		return CategoryNone
	case c >= 11000 && c < 12000:
		return CategoryAuth
	case c >= 12000 && c < 13000, c == Timeout:
		return CategoryNetwork
	case c >= 13000 && c < 14000:
		return CategoryFormat
	case c >= 14000 && c < 15000:
		return CategorySubmit
	case c >= 15000 && c < 16000, c >= 10200 && c < 10300:
		return CategoryStore
	case c >= 16000 && c < 17000:
		return CategorySolution
	default:
		return CategoryInternal
	}
}

// Retryable reports whether an operation failing with the code may succeed if repeated.
func (c ErrorCode) Retryable() bool {
	switch c {
	case NetworkError, JudgeUnavailable, RateLimited, Timeout:
		return true
	default:
		return false
	}
}
