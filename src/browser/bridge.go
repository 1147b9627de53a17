package browser

import (
	"encoding/json"
	"time"

	"github.com/ysmood/gson"

	"manga-dissector/src/events"
	"manga-dissector/src/transform"
)

var knownTargets = map[events.Target]bool{
	events.TargetPage:    true,
	events.TargetOverlay: true,
	events.TargetPanel:   true,
	events.TargetClose:   true,
	events.TargetResize:  true,
}

// decodeEvent turns a companion payload into an Event. Unknown targets are
// treated as the page.
func decodeEvent(payload string) (events.Event, bool) {
	j := gson.NewFrom(payload)
	kind := str(j, "kind")
	if kind == "" {
		return events.Event{}, false
	}
	alt, _ := field(j, "alt").(bool)
	ev := events.Event{
		Kind:   events.Kind(kind),
		X:      num(j, "x"),
		Y:      num(j, "y"),
		Target: events.Target(str(j, "target")),
		Key:    str(j, "key"),
		Alt:    alt,
		Time:   time.Now(),
	}
	if ms := num(j, "t"); ms > 0 {
		ev.Time = time.UnixMilli(int64(ms))
	}
	if !knownTargets[ev.Target] {
		ev.Target = events.TargetPage
	}
	return ev, true
}

func field(j gson.JSON, key string) interface{} {
	v, ok := j.Gets(key)
	if !ok {
		return nil
	}
	return v.Val()
}

func str(j gson.JSON, key string) string {
	s, _ := field(j, key).(string)
	return s
}

func num(j gson.JSON, key string) float64 {
	switch v := field(j, key).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// decodeViewport reads the companion's viewport snapshot. Missing scale and
// ratio default to 1.
func decodeViewport(j gson.JSON) (transform.ViewportState, error) {
	var vp transform.ViewportState
	if err := j.Unmarshal(&vp); err != nil {
		return vp, err
	}
	if vp.DevicePixelRatio <= 0 {
		vp.DevicePixelRatio = 1
	}
	if vp.VisualScale <= 0 {
		vp.VisualScale = 1
	}
	return vp, nil
}
