package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roadassist/internal/apiclient"
	"roadassist/internal/bill"
	"roadassist/internal/buildinfo"
	"roadassist/internal/config"
	"roadassist/internal/feed"
	"roadassist/internal/geo"
	"roadassist/internal/maprender"
	"roadassist/internal/metrics"
	"roadassist/internal/model"
	"roadassist/internal/store"
	"roadassist/internal/track"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: tracker [-config file] <command> [flags]

commands:
  login     save the local session (role, phone, name)
  request   create a breakdown request and track it (owner)
  track     track the active request (or -id)
  nearby    list open requests in range (mechanic)
  accept    accept a request and track it (mechanic)
  cancel    cancel a request
  otp       verify the start OTP (owner)
  bill      create, show, or confirm the bill
  complete  finish an in-progress job (owner)
  rate      rate the last completed request (owner)
  history   list closed jobs
  profile   show or update the registered profile
  version   print the build version
`)
	os.Exit(2)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)

	cfgPath := flag.String("config", os.Getenv("ROADASSIST_CONFIG"), "config file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}
	if flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	metrics.RegisterDefault()
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	app := &app{
		cfg: cfg,
		api: apiclient.New(cfg.BaseURL, cfg.Poll.Timeout),
		st:  st,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := app.run(ctx, cmd, args); err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		return store.NewPostgres(cfg.DatabaseURL)
	}
	return store.NewFile(cfg.StatePath)
}

type app struct {
	cfg config.Config
	api *apiclient.Client
	st  store.Store
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "request":
		return a.request(ctx, args)
	case "track":
		return a.track(ctx, args)
	case "nearby":
		return a.nearby(ctx)
	case "accept":
		return a.accept(ctx, args)
	case "cancel":
		return a.cancel(ctx, args)
	case "otp":
		return a.otp(ctx, args)
	case "bill":
		return a.bill(ctx, args)
	case "complete":
		return a.complete(ctx, args)
	case "rate":
		return a.rate(ctx, args)
	case "history":
		return a.history(ctx, args)
	case "profile":
		return a.profile(ctx, args)
	default:
		usage()
		return nil
	}
}

func (a *app) session(ctx context.Context) (model.Session, error) {
	s, err := a.st.Session(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("no session, run login first: %w", err)
	}
	return s, nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	role := fs.String("role", "owner", "owner or mechanic")
	phone := fs.String("phone", "", "phone number")
	name := fs.String("name", "", "display name")
	_ = fs.Parse(args)
	if *phone == "" {
		return fmt.Errorf("-phone is required")
	}
	r := model.Role(*role)
	if r != model.RoleOwner && r != model.RoleMechanic {
		return fmt.Errorf("role must be owner or mechanic")
	}
	if err := a.st.SaveSession(ctx, model.Session{Role: r, Phone: *phone, Name: *name}); err != nil {
		return err
	}
	log.Printf("logged in as %s (%s)", *phone, r)
	return nil
}

func (a *app) request(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("request", flag.ExitOnError)
	vehicle := fs.String("vehicle", "car", "vehicle type")
	service := fs.String("service", "breakdown", "service type")
	desc := fs.String("desc", "", "issue description")
	lat := fs.Float64("lat", 0, "breakdown latitude")
	lng := fs.Float64("lng", 0, "breakdown longitude")
	_ = fs.Parse(args)

	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	if sess.Role != model.RoleOwner {
		return fmt.Errorf("only owners create requests")
	}
	loc := model.GeoPoint{Lat: *lat, Lng: *lng}
	if loc.Lat == 0 && loc.Lng == 0 {
		src, err := a.source()
		if err != nil {
			return err
		}
		pos, err := src.GetOnce(ctx)
		if err != nil {
			return fmt.Errorf("current position: %w", err)
		}
		loc = pos.Point
	}
	id, err := a.api.CreateRequest(ctx, sess.Phone, *vehicle, *service, *desc, loc)
	if err != nil {
		return err
	}
	if err := a.st.SetActiveRequest(ctx, id); err != nil {
		return err
	}
	log.Printf("request %s created, searching for a mechanic", id)
	return a.runTracker(ctx, sess, id)
}

func (a *app) track(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	id := fs.String("id", "", "request id (defaults to the active one)")
	_ = fs.Parse(args)

	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	requestID := *id
	if requestID == "" {
		requestID, err = a.st.ActiveRequestID(ctx)
		if err != nil || requestID == "" {
			return fmt.Errorf("no active request")
		}
	} else if err := a.st.SetActiveRequest(ctx, requestID); err != nil {
		return err
	}
	return a.runTracker(ctx, sess, requestID)
}

func (a *app) nearby(ctx context.Context) error {
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	reqs, err := a.api.NearbyRequests(ctx, sess.Phone)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		log.Printf("no open requests in range")
		return nil
	}
	for _, r := range reqs {
		log.Printf("%s  %s/%s  %.1f km  %s", r.RequestID, r.VehicleType, r.ServiceType, r.DistanceKm, r.Description)
	}
	return nil
}

func (a *app) accept(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("accept", flag.ExitOnError)
	id := fs.String("id", "", "request id")
	_ = fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	if sess.Role != model.RoleMechanic {
		return fmt.Errorf("only mechanics accept requests")
	}
	otp, err := a.api.AcceptRequest(ctx, *id, sess.Phone)
	if err != nil {
		return err
	}
	if err := a.st.SetActiveRequest(ctx, *id); err != nil {
		return err
	}
	log.Printf("accepted %s, start OTP %s", *id, otp)
	return a.runTracker(ctx, sess, *id)
}

func (a *app) cancel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	id := fs.String("id", "", "request id (defaults to the active one)")
	_ = fs.Parse(args)
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	requestID, err := a.resolveID(ctx, *id)
	if err != nil {
		return err
	}
	if err := a.api.CancelRequest(ctx, sess.Role, requestID, sess.Phone); err != nil {
		return err
	}
	log.Printf("request %s cancelled", requestID)
	return nil
}

func (a *app) otp(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("otp", flag.ExitOnError)
	id := fs.String("id", "", "request id (defaults to the active one)")
	code := fs.String("code", "", "OTP read out by the mechanic")
	_ = fs.Parse(args)
	if *code == "" {
		return fmt.Errorf("-code is required")
	}
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	requestID, err := a.resolveID(ctx, *id)
	if err != nil {
		return err
	}
	if err := a.api.VerifyOTP(ctx, requestID, sess.Phone, *code); err != nil {
		return err
	}
	log.Printf("OTP verified, work started")
	return nil
}

// bill handles all three sides of the bill: the mechanic creates it, the
// owner shows and confirms it.
func (a *app) bill(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bill", flag.ExitOnError)
	id := fs.String("id", "", "request id (defaults to the active one)")
	var items, services multiFlag
	fs.Var(&items, "item", "bill item as name:qty:price (repeatable)")
	fs.Var(&services, "service", "bill service as name:price (repeatable)")
	confirm := fs.Bool("confirm", false, "confirm the bill (owner)")
	_ = fs.Parse(args)

	requestID, err := a.resolveID(ctx, *id)
	if err != nil {
		return err
	}
	if len(items) > 0 || len(services) > 0 {
		d := bill.NewDraft(requestID)
		for _, it := range items {
			name, qty, price, err := parseItem(it)
			if err != nil {
				return err
			}
			d.AddItem(name, qty, price)
		}
		for _, sv := range services {
			name, price, err := parseService(sv)
			if err != nil {
				return err
			}
			d.AddService(name, price)
		}
		if err := d.Submit(ctx, a.api); err != nil {
			return err
		}
		log.Printf("bill created, total %.2f, waiting for the owner to confirm", d.GrandTotal())
		return nil
	}
	b, err := bill.Review(ctx, a.api, requestID)
	if err != nil {
		return err
	}
	for _, it := range b.Items {
		log.Printf("  %dx %s  %.2f", it.Quantity, it.Name, float64(it.Quantity)*it.Price)
	}
	for _, sv := range b.Services {
		log.Printf("  %s  %.2f", sv.Name, sv.Price)
	}
	log.Printf("total %.2f (%s)", b.GrandTotal, b.Status)
	if *confirm {
		if err := bill.Confirm(ctx, a.api, requestID); err != nil {
			return err
		}
		log.Printf("bill confirmed")
	}
	return nil
}

func (a *app) complete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("complete", flag.ExitOnError)
	id := fs.String("id", "", "request id (defaults to the active one)")
	_ = fs.Parse(args)
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	requestID, err := a.resolveID(ctx, *id)
	if err != nil {
		return err
	}
	if err := a.api.CompleteRequest(ctx, requestID, sess.Phone); err != nil {
		return err
	}
	log.Printf("request %s completed", requestID)
	return nil
}

func (a *app) rate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rate", flag.ExitOnError)
	id := fs.String("id", "", "request id (defaults to the last completed one)")
	rating := fs.Int("rating", 0, "1 to 5 stars")
	feedback := fs.String("feedback", "", "free-form feedback")
	_ = fs.Parse(args)
	if *rating < 1 || *rating > 5 {
		return fmt.Errorf("-rating must be 1..5")
	}
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	requestID := *id
	if requestID == "" {
		requestID, err = a.st.CompletedRequestID(ctx)
		if err != nil || requestID == "" {
			return fmt.Errorf("nothing to rate")
		}
	}
	if err := a.api.SubmitFeedback(ctx, requestID, sess.Phone, *rating, *feedback); err != nil {
		return err
	}
	// The pointer is one-shot: rating it clears it.
	_ = a.st.ClearCompletedRequest(ctx)
	log.Printf("thanks for the feedback")
	return nil
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "max entries")
	remote := fs.Bool("remote", false, "fetch from the backend instead of the local archive")
	_ = fs.Parse(args)

	if *remote {
		sess, err := a.session(ctx)
		if err != nil {
			return err
		}
		recs, err := a.api.History(ctx, sess.Role, sess.Phone)
		if err != nil {
			return err
		}
		printJobs(recs)
		return nil
	}
	recs, err := a.st.Jobs(ctx, *limit)
	if err != nil {
		return err
	}
	printJobs(recs)
	return nil
}

func (a *app) profile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	name := fs.String("name", "", "new display name")
	_ = fs.Parse(args)
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	if *name != "" {
		if err := a.api.UpdateProfile(ctx, sess.Role, sess.Phone, *name); err != nil {
			return err
		}
		sess.Name = *name
		if err := a.st.SaveSession(ctx, sess); err != nil {
			return err
		}
		log.Printf("profile updated")
		return nil
	}
	p, err := a.api.Profile(ctx, sess.Role, sess.Phone)
	if err != nil {
		return err
	}
	log.Printf("%s  %s (%s)", p.Name, p.Phone, sess.Role)
	return nil
}

func printJobs(recs []model.JobRecord) {
	if len(recs) == 0 {
		log.Printf("no closed jobs")
		return
	}
	for _, r := range recs {
		log.Printf("%s  %-11s  %s", r.RequestID, r.Status, r.ClosedAt.Format("2006-01-02 15:04"))
	}
}

func (a *app) resolveID(ctx context.Context, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	active, err := a.st.ActiveRequestID(ctx)
	if err != nil || active == "" {
		return "", fmt.Errorf("no active request, pass -id")
	}
	return active, nil
}

// runTracker drives one tracking session until terminal or interrupt.
func (a *app) runTracker(ctx context.Context, sess model.Session, requestID string) error {
	var provider maprender.DirectionsProvider
	if a.cfg.Map.DirectionsURL != "" {
		provider = maprender.NewOSRMProvider(a.cfg.Map.DirectionsURL, a.cfg.Map.DirectionsRPS)
	}
	renderer := maprender.New(consoleSurface{}, provider, maprender.Config{
		MinMoveMeters:     a.cfg.Map.MinMoveMeters,
		RouteRecalcMeters: a.cfg.Map.RouteRecalcMeters,
		MinRotateDeg:      a.cfg.Map.MinRotateDeg,
		HeadingFactor:     a.cfg.Map.HeadingFactor,
		HeadingStepCapDeg: a.cfg.Map.HeadingStepCapDeg,
		MinHeadingSpeedMS: a.cfg.Map.MinHeadingSpeed,
		AnimateDuration:   a.cfg.Map.AnimateDuration,
	})

	var (
		source   geo.Source
		reporter track.Reporter
	)
	if sess.Role == model.RoleMechanic {
		src, err := a.source()
		if err != nil {
			return err
		}
		source = src
		wsURL := ""
		if a.cfg.Report.WebSocket {
			wsURL = a.cfg.Report.WSURL
		}
		rep := feed.New(a.api, wsURL, requestID, sess.Phone)
		defer rep.Close()
		reporter = rep
	}

	ctrl := track.NewController(track.ControllerConfig{
		PollInterval: a.cfg.Poll.Interval,
		MaxBackoff:   a.cfg.Poll.MaxBackoff,
		Reduce:       track.Config{ArrivalRadiusM: a.cfg.Map.ArrivalRadiusM},
	}, a.api, a.st, renderer, source, reporter, &consoleUI{role: sess.Role})

	ctrl.Start(ctx, requestID, sess.Role, sess.Phone)
	select {
	case <-ctx.Done():
		ctrl.Stop()
		<-ctrl.Done()
	case <-ctrl.Done():
	}
	return nil
}

func (a *app) source() (geo.Source, error) {
	loc := a.cfg.Location
	switch loc.Source {
	case "redis":
		return geo.NewRedisFeed(loc.RedisURL, loc.RedisChannel)
	case "", "simulated":
		return geo.NewSimulated(
			model.GeoPoint{Lat: loc.SimStartLat, Lng: loc.SimStartLng},
			model.GeoPoint{Lat: loc.SimTargetLat, Lng: loc.SimTargetLng},
			loc.SimStepM, loc.SimInterval,
		), nil
	default:
		return nil, fmt.Errorf("unknown location source %q", loc.Source)
	}
}

// consoleUI prints tracking effects as log lines.
type consoleUI struct {
	role model.Role
}

func (u *consoleUI) Render(e track.Effect) {
	switch v := e.(type) {
	case track.ShowStatus:
		log.Printf("status: %s", v.Status)
	case track.ShowSearch:
		if v.NextRadiusKm > 0 {
			log.Printf("searching within %.0f km (next %.0f km)", v.RadiusKm, v.NextRadiusKm)
		} else {
			log.Printf("searching within %.0f km (final radius)", v.RadiusKm)
		}
	case track.ShowSearchExhausted:
		log.Printf("no mechanic found yet, the request will time out shortly")
	case track.ShowOTP:
		if v.Code != "" {
			log.Printf("read this OTP to the customer: %s", v.Code)
		} else {
			log.Printf("ask the mechanic for the start OTP, then run: tracker otp -code <otp>")
		}
	case track.ShowBill:
		switch v.Status {
		case model.BillCreated:
			if u.role == model.RoleOwner {
				log.Printf("bill received, review with: tracker bill")
			} else {
				log.Printf("bill sent, waiting for confirmation")
			}
		case model.BillConfirmed:
			log.Printf("bill confirmed")
		}
	case track.EnableComplete:
		if v.Enabled && u.role == model.RoleOwner {
			log.Printf("work can be completed: tracker complete")
		}
	case track.ShowArrived:
		log.Printf("mechanic has arrived")
	case track.ConnectionLost:
		log.Printf("connection lost, retrying in the background")
	case track.ConnectionRestored:
		log.Printf("connection restored")
	case track.LocationError:
		log.Printf("location unavailable: %v", v.Err)
	case track.Terminal:
		log.Printf("request finished: %s", v.Status)
	}
}

// consoleSurface is the terminal stand-in for a map widget.
type consoleSurface struct{}

func (consoleSurface) Init(c model.GeoPoint) error {
	log.Printf("map: centered on %.5f,%.5f", c.Lat, c.Lng)
	return nil
}

func (consoleSurface) PlaceMarker(id string, p model.GeoPoint, label string) error {
	log.Printf("map: %s at %.5f,%.5f", label, p.Lat, p.Lng)
	return nil
}

func (consoleSurface) MoveMarker(id string, p model.GeoPoint, animate time.Duration) error {
	log.Printf("map: en route marker -> %.5f,%.5f", p.Lat, p.Lng)
	return nil
}

func (consoleSurface) RotateMarker(id string, headingDeg float64) error { return nil }

func (consoleSurface) DrawPolyline(id string, pts []model.GeoPoint) error {
	log.Printf("map: route drawn (%d points)", len(pts))
	return nil
}

func (consoleSurface) FitBounds(a, b model.GeoPoint) error { return nil }

// multiFlag collects repeatable flag values.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func parseItem(s string) (string, int, float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("item %q: want name:qty:price", s)
	}
	qty, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("item %q: bad quantity", s)
	}
	price, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("item %q: bad price", s)
	}
	return parts[0], qty, price, nil
}

func parseService(s string) (string, float64, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("service %q: want name:price", s)
	}
	price, err := strconv.ParseFloat(s[i+1:], 64)
	if err != nil {
		return "", 0, fmt.Errorf("service %q: bad price", s)
	}
	return s[:i], price, nil
}
