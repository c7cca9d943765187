package assistant

import (
	"context"
	"errors"
	"fmt"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/models"
	"echo-civic-assistant/backend/pkg/logger"
)

// Locator reports the citizen's last known position
type Locator interface {
	Current() (ai.Location, bool)
}

// Navigator moves the host UI to a route
type Navigator interface {
	Navigate(path string)
}

// PincodeResolver finds the postal code of an area
type PincodeResolver interface {
	ResolvePincode(ctx context.Context, area string) (string, error)
}

// Hooks are the host side effects a directive can trigger. Any of them may
// be nil.
type Hooks struct {
	OnLocateMe      func()
	OnPincodeSearch func(location [2]float64)
	OnFileComplaint func()
}

var errNoResolver = errors.New("no pincode resolver configured")

// Dispatcher runs the side effects of model directives
type Dispatcher struct {
	store         *Store
	directory     *Directory
	resolver      PincodeResolver
	locator       Locator
	navigator     Navigator
	hooks         Hooks
	complaintPath string
	metrics       *Metrics
	log           *logger.Logger
}

// Dispatch decodes raw and handles it. Failures and panics end up as an
// apology in the conversation, never as an error to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) {
	directive := DecodeDirective(raw)
	d.metrics.directive(ctx, directive.Kind)

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Panic while handling directive",
				"kind", string(directive.Kind),
				"panic", fmt.Sprint(r),
			)
			d.say(actionErrorText)
		}
	}()

	if err := d.handle(ctx, directive); err != nil {
		d.log.Warn("Directive failed",
			"kind", string(directive.Kind),
			"error", err.Error(),
		)
		d.say(actionErrorText)
	}
}

func (d *Dispatcher) handle(ctx context.Context, directive Directive) error {
	switch directive.Kind {
	case DirectiveFileComplaint:
		d.say(fileComplaintText)
		switch {
		case d.hooks.OnFileComplaint != nil:
			d.hooks.OnFileComplaint()
		case d.navigator != nil:
			d.navigator.Navigate(d.complaintPath)
		default:
			d.log.Warn("No complaint form handler configured")
		}

	case DirectiveLocateMe:
		if d.hooks.OnLocateMe != nil {
			d.say(locateRequestText)
			d.hooks.OnLocateMe()
			return nil
		}
		if d.locator != nil {
			if loc, ok := d.locator.Current(); ok {
				d.say(fmt.Sprintf(locateKnownFormat, loc.Latitude, loc.Longitude))
				return nil
			}
		}
		d.say(locateDeniedText)

	case DirectivePincodeSearch:
		office, ok := d.directory.Lookup(directive.Pincode)
		if !ok {
			d.say(fmt.Sprintf(pincodeUnknownFormat, directive.Pincode))
			return nil
		}
		if d.hooks.OnPincodeSearch != nil {
			d.hooks.OnPincodeSearch(office.Location)
		}
		d.say(fmt.Sprintf(pincodeFoundFormat, directive.Pincode, office.OfficeName, office.Contact, office.City))

	case DirectivePincodeLookup:
		d.say(fmt.Sprintf(pincodeLookupStartFormat, directive.Area))
		if d.resolver == nil {
			return errNoResolver
		}
		code, err := d.resolver.ResolvePincode(ctx, directive.Area)
		if err != nil {
			return err
		}
		d.say(fmt.Sprintf(pincodeLookupResultFormat, directive.Area, code))

	default:
		d.log.Info("Unhandled directive", "action", directive.Raw)
		d.say(unknownActionText)
	}
	return nil
}

func (d *Dispatcher) say(text string) {
	d.store.ReplaceTyping(models.Message{Text: text, Sender: models.SenderAssistant})
}
