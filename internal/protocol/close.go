package protocol

// Application-reserved close codes. Codes in [4400, 4500) signal a
// deliberate, non-retryable close; everything else is treated as transient
// and eligible for reconnection.
const (
	CloseAuthRejected = 4401
	CloseKicked       = 4403
	CloseSessionGone  = 4410

	terminalCloseMin = 4400
	terminalCloseMax = 4499
)

// IsTerminalCloseCode reports whether a close code falls in the
// application-reserved terminal range.
func IsTerminalCloseCode(code int) bool {
	return code >= terminalCloseMin && code <= terminalCloseMax
}
