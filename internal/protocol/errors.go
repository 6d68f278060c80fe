package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// World routing/state.
	ErrWorldNotFound = "E_WORLD_NOT_FOUND"

	// Job lifecycle.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrNoPermission    = "E_NO_PERMISSION"
	ErrDuplicateRegion = "E_DUPLICATE_REGION"
	ErrUnknownType     = "E_UNKNOWN_TYPE"
	ErrAmbiguousType   = "E_AMBIGUOUS_TYPE"
	ErrNotFound        = "E_NOT_FOUND"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrWorldNotFound:   {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrDuplicateRegion: {},
	ErrUnknownType:     {},
	ErrAmbiguousType:   {},
	ErrNotFound:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
