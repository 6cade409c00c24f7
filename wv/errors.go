package wv

import "errors"

var (
	// ErrInvalidInput is returned for empty or undecodable caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMissingCredential is returned when the device lacks a client id or private key.
	ErrMissingCredential = errors.New("missing device credential")
	// ErrMalformedCertificate is returned when a service certificate cannot be decoded.
	ErrMalformedCertificate = errors.New("malformed service certificate")
	// ErrMalformedResponse is returned when a license response cannot be decoded.
	ErrMalformedResponse = errors.New("malformed license response")
	// ErrProtocolState is returned when an operation runs out of order, e.g. a
	// license is parsed before any challenge was built.
	ErrProtocolState = errors.New("protocol state error")
	// ErrSignatureMismatch is returned when the license HMAC does not verify.
	ErrSignatureMismatch = errors.New("license signature mismatch")
	// ErrUnknownSession is returned for session ids that are not open.
	ErrUnknownSession = errors.New("session not found")
	// ErrRemoteTransport is returned when the remote CDM API cannot be reached or
	// answers with a non-200 status.
	ErrRemoteTransport = errors.New("remote cdm transport error")
	// ErrKeyNotFound is returned when a license carried no usable key for a KID.
	ErrKeyNotFound = errors.New("key not found")
)
