package callback

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// JSONKey returns a KeyFunc that keys raw JSON callbacks by the string at
// path, so members bound with WithKey("created") take documents whose
// discriminator is "created". The subject becomes the document as a
// json.RawMessage.
// Callbacks that are not valid JSON, or lack path, have no key.
func JSONKey(path string) KeyFunc {
	return func(callback any) (any, Key) {
		subject := callback
		if cmd, ok := callback.(*Command); ok {
			subject = cmd.Callback()
		}
		var raw []byte
		switch v := subject.(type) {
		case json.RawMessage:
			raw = v
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return subject, Key{}
		}
		if !gjson.ValidBytes(raw) {
			return subject, Key{}
		}
		r := gjson.GetBytes(raw, path)
		if !r.Exists() || r.String() == "" {
			return subject, Key{}
		}
		return json.RawMessage(raw), NameKey(r.String())
	}
}
