// Package apperr defines the typed error taxonomy shared by every layer of
// the REST API server: socket I/O, the HTTP codec, the endpoint dispatcher,
// and the credential store each return values from this set rather than ad
// hoc errors, so the server loop can map failures to a default HTTP
// response or a fatal-startup decision without string matching.
package apperr

import "fmt"

// Kind identifies a class of error. The numeric value is stable and is what
// gets logged alongside the human-readable description.
type Kind int

const (
	// json::*
	KindJSONParse Kind = -(iota + 1)
	KindJSONInvalidStart
	KindJSONInvalidEnd
	KindJSONTooSmall
	KindJSONNotFound
	KindJSONIncorrectType
	KindJSONInvalidType

	// file::*
	KindFileOpen
	KindFileRead
	KindFileWrite
	KindFileClose
	KindFileCreate
	KindFileRemove
	KindFileNotOpen
	KindFileInvalidPath
	KindFileInvalidMode
	KindFileFlush
	KindFileSync

	// sockets::*
	KindSocketInit
	KindSocketSetOpt
	KindSocketConvertIP
	KindSocketSetBlocking
	KindSocketPoll
	KindSocketAccept
	KindSocketBind
	KindSocketConnect
	KindSocketListen
	KindSocketTimeout
	KindSocketNotOpen
	KindSocketClosed
	KindSocketGetPeer
	KindSocketSend
	KindSocketClose
	KindSocketShutdown
	KindSocketTLSInit
	KindSocketLoadCert
	KindSocketLoadKey
	KindSocketVerifyKey
	KindSocketSNI
	KindSocketGetAddr
	KindSocketBrokenPipe
	KindSocketUnknown

	// crypto::*
	KindCryptoEncrypt
	KindCryptoDecrypt
	KindCryptoKey
	KindCryptoEncode
	KindCryptoDecode
	KindCryptoSign
	KindCryptoGenerate

	// compression::*
	KindCompressionTooLarge
	KindCompressionDeflate
	KindCompressionInflate
	KindCompressionDecompress

	// restapi::*
	KindUndefinedDatabase
	KindInvalidUID
	KindInvalidAPIKey
	KindInvalidSignature
	KindRateLimitExceeded
	KindInvalidAccessToken
	KindInvalidAuth
	KindDuplicateUsername
	KindInvalidUsername
	KindUnknownUsername
)

var descriptions = map[Kind]string{
	KindJSONParse:         "json: parse error",
	KindJSONInvalidStart:  "json: invalid start",
	KindJSONInvalidEnd:    "json: invalid end",
	KindJSONTooSmall:      "json: too small",
	KindJSONNotFound:      "json: not found",
	KindJSONIncorrectType: "json: incorrect type",
	KindJSONInvalidType:   "json: invalid type",

	KindFileOpen:         "file: open",
	KindFileRead:         "file: read",
	KindFileWrite:        "file: write",
	KindFileClose:        "file: close",
	KindFileCreate:       "file: create",
	KindFileRemove:       "file: remove",
	KindFileNotOpen:      "file: not open",
	KindFileInvalidPath:  "file: invalid path or mode",
	KindFileInvalidMode:  "file: invalid mode",
	KindFileFlush:        "file: flush",
	KindFileSync:         "file: sync",

	KindSocketInit:         "sockets: init",
	KindSocketSetOpt:       "sockets: set opt",
	KindSocketConvertIP:    "sockets: convert ip",
	KindSocketSetBlocking:  "sockets: set blocking",
	KindSocketPoll:         "sockets: poll",
	KindSocketAccept:       "sockets: accept",
	KindSocketBind:         "sockets: bind",
	KindSocketConnect:      "sockets: connect",
	KindSocketListen:       "sockets: listen",
	KindSocketTimeout:      "sockets: timeout",
	KindSocketNotOpen:      "sockets: not open",
	KindSocketClosed:       "sockets: closed",
	KindSocketGetPeer:      "sockets: getpeer",
	KindSocketSend:         "sockets: send",
	KindSocketClose:        "sockets: close",
	KindSocketShutdown:     "sockets: shutdown",
	KindSocketTLSInit:      "sockets: tls init",
	KindSocketLoadCert:     "sockets: load cert",
	KindSocketLoadKey:      "sockets: load key",
	KindSocketVerifyKey:    "sockets: verify key",
	KindSocketSNI:          "sockets: sni",
	KindSocketGetAddr:      "sockets: getaddr",
	KindSocketBrokenPipe:   "sockets: broken pipe",
	KindSocketUnknown:      "sockets: unknown",

	KindCryptoEncrypt:  "crypto: encrypt",
	KindCryptoDecrypt:  "crypto: decrypt",
	KindCryptoKey:      "crypto: key",
	KindCryptoEncode:   "crypto: encode",
	KindCryptoDecode:   "crypto: decode",
	KindCryptoSign:     "crypto: sign",
	KindCryptoGenerate: "crypto: generate",

	KindCompressionTooLarge:   "compression: too large",
	KindCompressionDeflate:    "compression: deflate",
	KindCompressionInflate:    "compression: inflate",
	KindCompressionDecompress: "compression: decompress",

	KindUndefinedDatabase:  "restapi: undefined database",
	KindInvalidUID:         "restapi: invalid uid",
	KindInvalidAPIKey:      "restapi: invalid api key",
	KindInvalidSignature:   "restapi: invalid signature",
	KindRateLimitExceeded:  "restapi: rate limit exceeded",
	KindInvalidAccessToken: "restapi: invalid access token",
	KindInvalidAuth:        "restapi: invalid auth",
	KindDuplicateUsername:  "restapi: duplicate username",
	KindInvalidUsername:    "restapi: invalid username",
	KindUnknownUsername:    "restapi: unknown username",
}

// String returns the fixed human-readable description for k.
func (k Kind) String() string {
	if d, ok := descriptions[k]; ok {
		return d
	}
	return "unknown error"
}

// Error is a typed error carrying a taxonomy Kind plus optional context.
// Its numeric Kind is what server code inspects to pick an HTTP status;
// its Error() string is what ends up in log lines.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "accept", "verify_user"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds an *Error for op/kind wrapping err. If err is nil, New is
// returned instead.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return New(kind, op)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is an *Error of the given kind (direct match or
// anywhere in its Unwrap chain).
func Is(err error, kind Kind) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			if ae.Kind == kind {
				return true
			}
			err = ae.Err
			continue
		}
		break
	}
	return false
}
