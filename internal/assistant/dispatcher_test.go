package assistant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDirective(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Directive
	}{
		{"file complaint", `{"action":"FILE_COMPLAINT"}`, Directive{Kind: DirectiveFileComplaint, Raw: "FILE_COMPLAINT"}},
		{"lower case action", `{"action":"locate_me"}`, Directive{Kind: DirectiveLocateMe, Raw: "locate_me"}},
		{"pincode string", `{"action":"PINCODE_SEARCH","pincode":"400001"}`, Directive{Kind: DirectivePincodeSearch, Pincode: "400001", Raw: "PINCODE_SEARCH"}},
		{"pincode number", `{"action":"PINCODE_SEARCH","pincode":560001}`, Directive{Kind: DirectivePincodeSearch, Pincode: "560001", Raw: "PINCODE_SEARCH"}},
		{"pincode missing", `{"action":"PINCODE_SEARCH"}`, Directive{Kind: DirectiveUnknown, Raw: "PINCODE_SEARCH"}},
		{"pincode null", `{"action":"PINCODE_SEARCH","pincode":null}`, Directive{Kind: DirectiveUnknown, Raw: "PINCODE_SEARCH"}},
		{"pincode fraction", `{"action":"PINCODE_SEARCH","pincode":4000.5}`, Directive{Kind: DirectiveUnknown, Raw: "PINCODE_SEARCH"}},
		{"lookup", `{"action":"PINCODE_LOOKUP","area":" Salt Lake, Kolkata "}`, Directive{Kind: DirectivePincodeLookup, Area: "Salt Lake, Kolkata", Raw: "PINCODE_LOOKUP"}},
		{"lookup without area", `{"action":"PINCODE_LOOKUP"}`, Directive{Kind: DirectiveUnknown, Raw: "PINCODE_LOOKUP"}},
		{"unknown action", `{"action":"ORDER_PIZZA"}`, Directive{Kind: DirectiveUnknown, Raw: "ORDER_PIZZA"}},
		{"no action", `{"pincode":"400001"}`, Directive{Kind: DirectiveUnknown}},
		{"not an object", `["FILE_COMPLAINT"]`, Directive{Kind: DirectiveUnknown}},
		{"garbage", `nope`, Directive{Kind: DirectiveUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeDirective([]byte(tt.raw)))
		})
	}
}

type navRecorder struct{ paths []string }

func (n *navRecorder) Navigate(path string) { n.paths = append(n.paths, path) }

type resolverFunc func(ctx context.Context, area string) (string, error)

func (f resolverFunc) ResolvePincode(ctx context.Context, area string) (string, error) {
	return f(ctx, area)
}

func lastTexts(a *Assistant, n int) []string {
	msgs := a.Messages()
	out := make([]string, 0, n)
	for _, m := range msgs[len(msgs)-n:] {
		out = append(out, m.Text)
	}
	return out
}

func dispatch(a *Assistant, raw string) {
	a.dispatcher.Dispatch(context.Background(), []byte(raw))
}

func TestFileComplaintUsesHookOrNavigates(t *testing.T) {
	called := 0
	a := newTestAssistant(t, Options{Hooks: Hooks{OnFileComplaint: func() { called++ }}})
	dispatch(a, `{"action":"FILE_COMPLAINT"}`)
	assert.Equal(t, 1, called)
	assert.Equal(t, []string{fileComplaintText}, lastTexts(a, 1))

	nav := &navRecorder{}
	b := newTestAssistant(t, Options{Navigator: nav})
	dispatch(b, `{"action":"FILE_COMPLAINT"}`)
	assert.Equal(t, []string{"/app"}, nav.paths)
	assert.Equal(t, []string{fileComplaintText}, lastTexts(b, 1))
}

func TestLocateMeProducesExactlyOneText(t *testing.T) {
	t.Run("hook", func(t *testing.T) {
		called := false
		a := newTestAssistant(t, Options{
			Hooks:   Hooks{OnLocateMe: func() { called = true }},
			Locator: fixedLocator{loc: ai.Location{Latitude: 1, Longitude: 2}, ok: true},
		})
		before := len(a.Messages())
		dispatch(a, `{"action":"LOCATE_ME"}`)
		assert.True(t, called)
		assert.Len(t, a.Messages(), before+1)
		assert.Equal(t, []string{locateRequestText}, lastTexts(a, 1))
	})

	t.Run("known location", func(t *testing.T) {
		a := newTestAssistant(t, Options{
			Locator: fixedLocator{loc: ai.Location{Latitude: 19.076090, Longitude: 72.877426}, ok: true},
		})
		before := len(a.Messages())
		dispatch(a, `{"action":"LOCATE_ME"}`)
		assert.Len(t, a.Messages(), before+1)
		assert.Equal(t, []string{
			"I can see you're near coordinates 19.0761, 72.8774. This helps me provide more relevant assistance!",
		}, lastTexts(a, 1))
	})

	t.Run("unknown location", func(t *testing.T) {
		a := newTestAssistant(t, Options{Locator: fixedLocator{}})
		dispatch(a, `{"action":"LOCATE_ME"}`)
		assert.Equal(t, []string{locateDeniedText}, lastTexts(a, 1))
	})
}

func TestPincodeSearchKnown(t *testing.T) {
	var centered [][2]float64
	a := newTestAssistant(t, Options{Hooks: Hooks{
		OnPincodeSearch: func(loc [2]float64) { centered = append(centered, loc) },
	}})

	dispatch(a, `{"action":"PINCODE_SEARCH","pincode":400001}`)

	require.Len(t, centered, 1)
	assert.Equal(t, [2]float64{18.9398, 72.8355}, centered[0])
	assert.Equal(t, []string{
		"Here are the details for pincode 400001:\n\n🏢 Office: Mumbai GPO\n📞 Contact: 022-22621671\n🏙️ City: Mumbai\n\n" +
			"I've also centered the map on this area for you.",
	}, lastTexts(a, 1))
}

func TestPincodeSearchUnknown(t *testing.T) {
	called := false
	a := newTestAssistant(t, Options{Hooks: Hooks{OnPincodeSearch: func([2]float64) { called = true }}})

	dispatch(a, `{"action":"PINCODE_SEARCH","pincode":"999999"}`)

	assert.False(t, called)
	assert.Equal(t, []string{
		"Sorry, I don't have information for pincode 999999 yet. I currently support major cities like " +
			"Mumbai, Delhi, Bangalore, Chennai, Hyderabad, Kolkata, and Pune.",
	}, lastTexts(a, 1))
}

func TestPincodeLookup(t *testing.T) {
	a := newTestAssistant(t, Options{Pincodes: resolverFunc(func(_ context.Context, area string) (string, error) {
		assert.Equal(t, "Koramangala, Bangalore", area)
		return "560034", nil
	})})

	dispatch(a, `{"action":"PINCODE_LOOKUP","area":"Koramangala, Bangalore"}`)

	assert.Equal(t, []string{
		"Let me look up the pincode for Koramangala, Bangalore...",
		"The pincode for Koramangala, Bangalore is likely 560034. If you'd like authority details for this area, just send me the pincode!",
	}, lastTexts(a, 2))
}

func TestPincodeLookupFailure(t *testing.T) {
	a := newTestAssistant(t, Options{Pincodes: resolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	})})

	dispatch(a, `{"action":"PINCODE_LOOKUP","area":"Nowhere"}`)

	assert.Equal(t, []string{"Let me look up the pincode for Nowhere...", actionErrorText}, lastTexts(a, 2))
}

func TestUnknownDirective(t *testing.T) {
	a := newTestAssistant(t, Options{})
	dispatch(a, `{"action":"ORDER_PIZZA"}`)
	assert.Equal(t, []string{unknownActionText}, lastTexts(a, 1))
}

func TestHookPanicIsRecovered(t *testing.T) {
	a := newTestAssistant(t, Options{Hooks: Hooks{OnFileComplaint: func() { panic("form missing") }}})

	assert.NotPanics(t, func() { dispatch(a, `{"action":"FILE_COMPLAINT"}`) })
	assert.Equal(t, []string{fileComplaintText, actionErrorText}, lastTexts(a, 2))
}

func TestDispatcherClearsTyping(t *testing.T) {
	a := newTestAssistant(t, Options{})
	a.store.BeginTyping()
	dispatch(a, `{"action":"ORDER_PIZZA"}`)
	assert.Zero(t, typingCount(a.Messages()))
}

func TestDirectiveOnlyResponse(t *testing.T) {
	opened := false
	transport := &fakeTransport{respond: func(context.Context, ai.Request) (*ai.Response, error) {
		return &ai.Response{Action: []byte(`{"action":"FILE_COMPLAINT"}`)}, nil
	}}
	a := newTestAssistant(t, Options{Transport: transport, Hooks: Hooks{OnFileComplaint: func() { opened = true }}})

	added, err := a.SubmitText(context.Background(), "I want to report a pothole", nil)
	require.NoError(t, err)

	assert.True(t, opened)
	require.Len(t, added, 2)
	assert.Equal(t, fileComplaintText, added[1].Text)
	for _, m := range a.Messages() {
		assert.NotEmpty(t, m.Text)
	}
}

func TestTextAndDirective(t *testing.T) {
	transport := &fakeTransport{respond: func(context.Context, ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: "Sure.", Action: []byte(`{"action":"PINCODE_SEARCH","pincode":"110001"}`)}, nil
	}}
	a := newTestAssistant(t, Options{Transport: transport})

	added, err := a.SubmitText(context.Background(), "details for 110001", nil)
	require.NoError(t, err)
	require.Len(t, added, 3)
	assert.Equal(t, "Sure.", added[1].Text)
	assert.Contains(t, added[2].Text, "New Delhi GPO")
	assert.Equal(t, models.SenderAssistant, added[2].Sender)
}

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pincodes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
"682001":
  officeName: Kochi HPO
  contact: 0484-2355467
  city: Kochi
  location: [9.9658, 76.2421]
`), 0o600))

	dir, err := LoadDirectory(path)
	require.NoError(t, err)
	assert.Equal(t, 1, dir.Len())

	office, ok := dir.Lookup("682001")
	require.True(t, ok)
	assert.Equal(t, Office{OfficeName: "Kochi HPO", Contact: "0484-2355467", City: "Kochi", Location: [2]float64{9.9658, 76.2421}}, office)

	_, ok = dir.Lookup("400001")
	assert.False(t, ok)

	_, err = LoadDirectory(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultDirectoryCoversMetros(t *testing.T) {
	dir := DefaultDirectory()
	cities := map[string]bool{}
	for _, code := range []string{"400001", "110001", "560001", "600001", "500001", "700001", "411001"} {
		o, ok := dir.Lookup(code)
		require.True(t, ok, code)
		cities[o.City] = true
	}
	assert.Len(t, cities, 7)
}
