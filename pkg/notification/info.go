package notification

import (
	"encoding/json"
	"fmt"

	"github.com/tinywideclouds/go-skykit/pkg/serialization"
)

// Wire sections of an encoded Info.
const (
	SectionAPNS = "apns"
	SectionGCM  = "gcm"

	gcmNotification = "notification"
	gcmData         = "data"
)

// Info is the payload sent by a push operation. It is encoded once into a
// wire mapping with an APNs section and a GCM section; custom Data goes
// through the data codec, so it may hold dates, references and other
// domain values.
type Info struct {
	Title            string
	Alert            Alert
	SoundName        string
	Badge            *int
	ContentAvailable bool
	Category         string
	Data             map[string]any
}

// Encode renders the wire form of the payload.
func (i Info) Encode() (map[string]any, error) {
	data, err := i.encodedData()
	if err != nil {
		return nil, err
	}

	alert := map[string]any{}
	putString(alert, alertTitle, i.Title)
	putString(alert, alertBody, i.Alert.Body)
	putString(alert, alertLocKey, i.Alert.LocalizationKey)
	putString(alert, alertActionLocKey, i.Alert.ActionLocalizationKey)
	putString(alert, alertLaunchImage, i.Alert.LaunchImage)
	if len(i.Alert.LocalizationArgs) > 0 {
		args := make([]any, len(i.Alert.LocalizationArgs))
		for idx, arg := range i.Alert.LocalizationArgs {
			args[idx] = arg
		}
		alert[alertLocArgs] = args
	}

	aps := map[string]any{}
	if len(alert) > 0 {
		aps[apsAlert] = alert
	}
	putString(aps, apsSound, i.SoundName)
	putString(aps, apsCategory, i.Category)
	if i.Badge != nil {
		aps[apsBadge] = *i.Badge
	}
	if i.ContentAvailable {
		aps[apsContentAvailable] = 1
	}

	apns := map[string]any{FieldAPS: aps}
	for k, v := range data {
		apns[k] = v
	}

	gcmNote := map[string]any{}
	putString(gcmNote, alertTitle, i.Title)
	putString(gcmNote, alertBody, i.Alert.Body)
	putString(gcmNote, apsSound, i.SoundName)
	gcm := map[string]any{gcmNotification: gcmNote}
	if len(data) > 0 {
		gcm[gcmData] = data
	}

	return map[string]any{SectionAPNS: apns, SectionGCM: gcm}, nil
}

func (i Info) encodedData() (map[string]any, error) {
	if len(i.Data) == 0 {
		return nil, nil
	}
	if _, reserved := i.Data[FieldAPS]; reserved {
		return nil, fmt.Errorf("custom data may not use the reserved key %q", FieldAPS)
	}
	encoded, err := serialization.Encode(i.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode custom data: %w", err)
	}
	return encoded.(map[string]any), nil
}

// StringData flattens the custom data for platforms that only carry string
// values: strings are kept, everything else is rendered as wire JSON.
func (i Info) StringData() (map[string]string, error) {
	data, err := i.encodedData()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to render data key %q: %w", k, err)
		}
		out[k] = string(raw)
	}
	return out, nil
}

// DecodeInfo is the inverse of Info.Encode. The APNs section is
// authoritative; the GCM section is only read when it is absent.
func DecodeInfo(wire any) (Info, error) {
	m, ok := wire.(map[string]any)
	if !ok {
		return Info{}, ErrMalformedPayload
	}

	var info Info
	apns, hasAPNS := m[SectionAPNS].(map[string]any)
	if hasAPNS {
		aps, _ := apns[FieldAPS].(map[string]any)
		switch alert := aps[apsAlert].(type) {
		case map[string]any:
			info.Title = stringField(alert, alertTitle)
			info.Alert = decodeAlert(alert)
		case string:
			info.Alert.Body = alert
		}
		info.SoundName = stringField(aps, apsSound)
		info.Category = stringField(aps, apsCategory)
		info.ContentAvailable = truthy(aps[apsContentAvailable])
		if badge, ok := intValue(aps[apsBadge]); ok {
			info.Badge = &badge
		}

		custom := make(map[string]any)
		for k, v := range apns {
			if k != FieldAPS {
				custom[k] = v
			}
		}
		if err := info.setData(custom); err != nil {
			return Info{}, err
		}
		return info, nil
	}

	gcm, _ := m[SectionGCM].(map[string]any)
	note, _ := gcm[gcmNotification].(map[string]any)
	info.Title = stringField(note, alertTitle)
	info.Alert.Body = stringField(note, alertBody)
	info.SoundName = stringField(note, apsSound)
	custom, _ := gcm[gcmData].(map[string]any)
	if err := info.setData(custom); err != nil {
		return Info{}, err
	}
	return info, nil
}

func (i *Info) setData(custom map[string]any) error {
	if len(custom) == 0 {
		return nil
	}
	decoded, err := serialization.Decode(custom)
	if err != nil {
		return fmt.Errorf("failed to decode custom data: %w", err)
	}
	i.Data = decoded.(map[string]any)
	return nil
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
