package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	gopenpgp "github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/emersion/go-ical"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/mo"

	"github.com/cyp0633/libcalseal/batch"
	"github.com/cyp0633/libcalseal/calcrypto"
	"github.com/cyp0633/libcalseal/internal/apiclient"
	"github.com/cyp0633/libcalseal/internal/config"
	"github.com/cyp0633/libcalseal/invite"
	"github.com/cyp0633/libcalseal/recurrence"
	"github.com/cyp0633/libcalseal/storage/memory"
	"github.com/cyp0633/libcalseal/timezone"
	"github.com/cyp0633/libcalseal/vcal"
)

const dateLayout = "2006-01-02"

// keyPassphraseEnv holds the passphrase of the calendar key
const keyPassphraseEnv = config.EnvPrefix + "KEY_PASSPHRASE"

func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func parseDay(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(dateLayout, value)
}

// events returns every VEVENT of an ICS document
func events(text string, a *app) ([]*vcal.Component, error) {
	root, err := vcal.Parse(text)
	if root.Name == "" {
		if err == nil {
			err = errors.New("empty calendar")
		}
		return nil, err
	}
	if err != nil {
		a.logger.Warn("calendar has invalid properties", "error", err)
	}
	if root.Name == ical.CompEvent {
		return []*vcal.Component{root}, nil
	}
	return root.Components(ical.CompEvent), nil
}

func runExpand(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("expand", flag.ContinueOnError)
	file := fs.String("file", "-", "ICS file, - for stdin")
	from := fs.String("from", time.Now().UTC().Format(dateLayout), "range start (date or RFC 3339)")
	to := fs.String("to", "", "range end (date or RFC 3339), defaults to 30 days after -from")
	if err := fs.Parse(args); err != nil {
		return err
	}

	start, err := parseDay(*from)
	if err != nil {
		return fmt.Errorf("invalid -from: %w", err)
	}
	end := start.AddDate(0, 0, 30)
	if *to != "" {
		if end, err = parseDay(*to); err != nil {
			return fmt.Errorf("invalid -to: %w", err)
		}
	}

	text, err := readInput(*file)
	if err != nil {
		return err
	}
	evs, err := events(text, a)
	if err != nil {
		return err
	}

	engine := recurrence.NewEngine(
		recurrence.WithConfig(a.cfg.RecurrenceConfig()),
		recurrence.WithLogger(a.logger))
	defer engine.Close()
	for _, ev := range evs {
		occurrences, err := engine.OccurrencesInRange(ev, start, end)
		if err != nil {
			a.logger.Warn("can't expand event", "uid", ev.UID(), "error", err)
			continue
		}
		for _, o := range occurrences {
			fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n",
				o.Start.Format(time.RFC3339), o.End.Format(time.RFC3339), ev.UID(), summary(ev))
		}
	}
	return nil
}

func summary(ev *vcal.Component) string {
	if p := ev.Get(ical.PropSummary); p != nil {
		return p.Text
	}
	return ""
}

func runImport(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file := fs.String("file", "-", "ICS file, - for stdin")
	tzid := fs.String("tz", a.cfg.DefaultTimezone, "timezone of floating times")
	if err := fs.Parse(args); err != nil {
		return err
	}

	text, err := readInput(*file)
	if err != nil {
		return err
	}
	result, err := invite.ImportCalendar(text, invite.ImportOptions{
		DefaultTZID: *tzid,
		Engine:      recurrence.NewEngine(recurrence.WithConfig(recurrence.DisabledCacheConfig)),
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	cal := vcal.NewComponent(ical.CompCalendar)
	cal.Children = result.Events
	out, err := vcal.Serialize(cal)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(a.out, out); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d of %d events rejected", len(result.Errors), len(result.Errors)+len(result.Events))
	}
	return nil
}

func runInvite(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("invite", flag.ContinueOnError)
	file := fs.String("file", "-", "ICS file holding the event, - for stdin")
	method := fs.String("method", string(invite.MethodRequest), "REQUEST or REPLY")
	email := fs.String("email", "", "replying attendee (REPLY)")
	partstat := fs.String("partstat", "", "answer of the replying attendee (REPLY)")
	useAPI := fs.Bool("api", false, "fetch VTIMEZONE components from the calendar API instead of generating them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	text, err := readInput(*file)
	if err != nil {
		return err
	}
	evs, err := events(text, a)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		return errors.New("no event in input")
	}
	ev := evs[0]

	now := time.Now()
	var zones timezone.Source = timezone.GeneratedSource{From: now.AddDate(-1, 0, 0), To: now.AddDate(5, 0, 0)}
	if *useAPI {
		if zones, err = newAPIClient(a); err != nil {
			return err
		}
	}

	out, err := invite.CreateInviteICS(ctx, invite.InviteParams{
		Method:    invite.Method(strings.ToUpper(*method)),
		Event:     ev,
		EmailTo:   *email,
		PartStat:  *partstat,
		DTStamp:   mo.None[time.Time](),
		Timezones: zones,
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(a.out, out)
	return err
}

func newAPIClient(a *app) (*apiclient.Client, error) {
	if a.cfg.API.UID == "" || a.cfg.API.Token == "" {
		return nil, errors.New("api session missing: set CALSEAL_API_UID and CALSEAL_API_TOKEN")
	}
	base, err := url.Parse(a.cfg.API.BaseURL)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		Transport: apiclient.NewBearerTransport(a.cfg.API.UID, a.cfg.API.Token, nil, a.logger),
		Timeout:   30 * time.Second,
	}
	return apiclient.New(httpClient, *base, a.logger)
}

// keyFlags collects repeated email=path arguments
type keyFlags map[string]string

func (k keyFlags) String() string {
	pairs := make([]string, 0, len(k))
	for email, path := range k {
		pairs = append(pairs, email+"="+path)
	}
	return strings.Join(pairs, ",")
}

func (k keyFlags) Set(value string) error {
	email, path, ok := strings.Cut(value, "=")
	if !ok || email == "" || path == "" {
		return fmt.Errorf("expected email=path, got %q", value)
	}
	k[email] = path
	return nil
}

func readKeyRing(path string, passphrase []byte) (*gopenpgp.KeyRing, error) {
	armored, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := gopenpgp.NewKeyFromArmored(string(armored))
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", path, err)
	}
	if key.IsPrivate() {
		locked, err := key.IsLocked()
		if err != nil {
			return nil, err
		}
		if locked {
			if key, err = key.Unlock(passphrase); err != nil {
				return nil, fmt.Errorf("failed to unlock key %s: %w", path, err)
			}
		}
	}
	return gopenpgp.NewKeyRing(key)
}

func runDecrypt(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("decrypt", flag.ContinueOnError)
	calendarID := fs.String("calendar", "", "calendar ID")
	calendarKey := fs.String("key", "", "armored calendar private key, unlocked with CALSEAL_KEY_PASSPHRASE")
	verifiers := keyFlags{}
	fs.Var(verifiers, "verify", "armored public key of an author as email=path (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *calendarID == "" || *calendarKey == "" {
		return errors.New("-calendar and -key are required")
	}

	keys := memory.New()
	kr, err := readKeyRing(*calendarKey, []byte(os.Getenv(keyPassphraseEnv)))
	if err != nil {
		return err
	}
	keys.SetCalendarKey(*calendarID, kr)
	for email, path := range verifiers {
		kr, err := readKeyRing(path, nil)
		if err != nil {
			return err
		}
		keys.SetAddressKeys(email, kr)
	}

	client, err := newAPIClient(a)
	if err != nil {
		return err
	}
	bc := a.cfg.BatchConfig()
	bc.Logger = a.logger
	bc.Metrics = batch.NewMetrics(prometheus.DefaultRegisterer)
	pipeline := batch.NewPipeline(client, keys,
		calcrypto.NewCodec(calcrypto.PGPProvider{}, calcrypto.WithLogger(a.logger)), bc)

	result, err := pipeline.DecryptCalendar(ctx, *calendarID)
	if err != nil {
		return err
	}
	if result.Cancelled {
		return ctx.Err()
	}

	for _, ev := range result.Events {
		a.logger.Info("event decrypted", "id", ev.EventID, "verification", ev.Verification)
		if ev.Event == nil {
			continue
		}
		out, err := vcal.Serialize(ev.Event)
		if err != nil {
			a.logger.Warn("can't serialize event", "id", ev.EventID, "error", err)
			continue
		}
		if _, err := io.WriteString(a.out, out); err != nil {
			return err
		}
	}
	for _, e := range result.Errors {
		a.logger.Warn("event failed", "id", e.EventID, "error", e.Err)
	}
	a.logger.Info("calendar decrypted",
		"pages", result.Pages,
		"events", len(result.Events),
		"failed", len(result.Errors))
	return nil
}
