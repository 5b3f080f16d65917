package gemini

import "strconv"

// Status is a two-digit Gemini response status code.
//
// The first digit selects the category; the second digit refines it.
// The set below is closed: the classifier is total over it and no other
// codes are ever written to the wire.
type Status int

const (
	// Input category (10-19): the resource wants a query string.
	StatusInput          Status = 10
	StatusSensitiveInput Status = 11

	// Success category (20-29).
	StatusSuccess Status = 20

	// Redirect category (30-39).
	StatusRedirectTemporary Status = 30
	StatusRedirectPermanent Status = 31

	// Temporary failure category (40-49).
	StatusTemporaryFailure  Status = 40
	StatusServerUnavailable Status = 41
	StatusSlowDown          Status = 44

	// Permanent failure category (50-59).
	StatusPermanentFailure    Status = 50
	StatusNotFound            Status = 51
	StatusGone                Status = 52
	StatusProxyRequestRefused Status = 53
	StatusBadRequest          Status = 59

	// Client certificate category (60-69).
	StatusCertificateRequired      Status = 60
	StatusCertificateNotAuthorized Status = 61
	StatusCertificateNotValid      Status = 62
)

// inRange reports whether s falls in [low, high] inclusive.
func (s Status) inRange(low, high Status) bool {
	return s >= low && s <= high
}

// IsInput reports whether s is an input-required status.
func (s Status) IsInput() bool { return s.inRange(10, 19) }

// IsSuccess reports whether s is a success status. Only success
// responses carry a body.
func (s Status) IsSuccess() bool { return s.inRange(20, 29) }

// IsRedirect reports whether s is a redirect status.
func (s Status) IsRedirect() bool { return s.inRange(30, 39) }

// IsTemporaryFailure reports whether s is a temporary failure status.
func (s Status) IsTemporaryFailure() bool { return s.inRange(40, 49) }

// IsPermanentFailure reports whether s is a permanent failure status.
func (s Status) IsPermanentFailure() bool { return s.inRange(50, 59) }

// IsCertificateStatus reports whether s is a client certificate status.
func (s Status) IsCertificateStatus() bool { return s.inRange(60, 69) }

// Valid reports whether s is one of the defined two-digit codes.
func (s Status) Valid() bool { return s.inRange(10, 69) }

func (s Status) String() string {
	return strconv.Itoa(int(s))
}
