package payload

// Kind is the declared content kind of a message. The set is closed:
// anything ParseKind does not recognize maps to KindUnknown and passes
// through both transform paths untouched.
type Kind string

const (
	KindText           Kind = "text"
	KindReply          Kind = "reply"
	KindFileAttachment Kind = "file_attachment"
	KindContactPerson  Kind = "contact_person"
	KindLocation       Kind = "location"
	KindCustom         Kind = "custom"
	KindUnknown        Kind = ""
)

func ParseKind(raw string) Kind {
	switch Kind(raw) {
	case KindText, KindReply, KindFileAttachment, KindContactPerson, KindLocation, KindCustom:
		return Kind(raw)
	default:
		return KindUnknown
	}
}

// Encryptable reports whether messages of this kind carry encrypted
// content at all.
func (k Kind) Encryptable() bool {
	return k != KindUnknown
}

// BatchEligible reports whether the batch decryptor handles this kind.
// Other kinds are covered by the single-message path.
func (k Kind) BatchEligible() bool {
	return k == KindText || k == KindReply
}
