// internal/live/mqtt/payload.go
package mqtt

import (
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// payload is the wire form of one sample.
type payload struct {
	Value      float64 `cbor:"v"`
	ObservedAt int64   `cbor:"t"` // unix millis
	Unit       string  `cbor:"u,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("mqtt: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("mqtt: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodePayload encodes u for publishing on a vitals topic.
func EncodePayload(u vitals.VitalsUpdate) ([]byte, error) {
	return encMode.Marshal(payload{
		Value:      u.Value,
		ObservedAt: u.ObservedAt.UnixMilli(),
		Unit:       u.Unit,
	})
}

// DecodePayload decodes one sample of type t.
// A zero timestamp is replaced by now.
func DecodePayload(t vitals.PermissionType, data []byte, now time.Time) (vitals.VitalsUpdate, error) {
	var p payload
	if err := decMode.Unmarshal(data, &p); err != nil {
		return vitals.VitalsUpdate{}, fmt.Errorf("mqtt: decode %s payload: %w", t, err)
	}

	at := now
	if p.ObservedAt > 0 {
		at = time.UnixMilli(p.ObservedAt)
	}

	return vitals.VitalsUpdate{
		DataType:   t,
		Value:      p.Value,
		Unit:       p.Unit,
		ObservedAt: at,
	}, nil
}

// Topic returns "<prefix>/<userID>/<type>".
func Topic(prefix, userID string, t vitals.PermissionType) string {
	return prefix + "/" + userID + "/" + t.String()
}

// typeFromTopic extracts the type from the last topic level.
func typeFromTopic(topic string) (vitals.PermissionType, bool) {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 {
		return 0, false
	}
	t, err := vitals.ParsePermissionType(topic[i+1:])
	if err != nil {
		return 0, false
	}
	return t, true
}

// validUserID rejects ids that would change the topic shape.
func validUserID(userID string) bool {
	return userID != "" && !strings.ContainsAny(userID, "/+#")
}
