package orientlog

const (
	envelopeOpen   = `{"transaction":false,"operations":[`
	envelopeClose  = `]}`
	createRecordOp = `{"type":"c","record":`
)

// EncodeBatch appends the bulk-write envelope for events:
//
//	{"transaction":false,"operations":[{"type":"c","record":<event>},...]}
//
// Each record carries className as its "@class". Events that fail to
// serialize are left out of the envelope, which stays well-formed, and their
// errors are returned. An empty batch yields an empty operations list.
func (e *Encoder) EncodeBatch(className string, events []LogEvent) (dropped []error) {
	e.WriteString(envelopeOpen)

	n := 0
	for i := range events {
		mark := e.Len()
		if n > 0 {
			e.WriteByte(',')
		}
		e.WriteString(createRecordOp)
		if err := e.encodeEvent(className, &events[i]); err != nil {
			e.Truncate(mark)
			dropped = append(dropped, err)
			continue
		}
		e.WriteByte('}')
		n++
	}

	e.WriteString(envelopeClose)
	return dropped
}

// BuildPayload renders events into a new envelope. See EncodeBatch.
func BuildPayload(className string, events []LogEvent, opts *EncoderOptions) ([]byte, []error) {
	enc := NewEncoder(opts)
	dropped := enc.EncodeBatch(className, events)
	return enc.Bytes(), dropped
}
