package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/journey.ersn.net/server/internal/cache"
	"github.com/dpup/journey.ersn.net/server/internal/clients/journeyapi"
	"github.com/dpup/journey.ersn.net/server/internal/clients/memory"
	"github.com/dpup/journey.ersn.net/server/internal/config"
	"github.com/dpup/journey.ersn.net/server/internal/export"
	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
	"github.com/dpup/journey.ersn.net/server/internal/lib/progress"
	"github.com/dpup/journey.ersn.net/server/internal/lib/route"
	"github.com/dpup/journey.ersn.net/server/internal/lib/stamps"
	"github.com/dpup/journey.ersn.net/server/internal/services"
)

const (
	demoUser    = "demo-runner"
	demoJourney = "hwy4-angels-murphys"
)

// Angels Camp to Murphys along Highway 4
var demoRoute = []geo.Point{
	{Latitude: 38.0675, Longitude: -120.5436},
	{Latitude: 38.0740, Longitude: -120.5270},
	{Latitude: 38.0822, Longitude: -120.5058},
	{Latitude: 38.0891, Longitude: -120.4862},
	{Latitude: 38.1002, Longitude: -120.4739},
	{Latitude: 38.1185, Longitude: -120.4650},
	{Latitude: 38.1391, Longitude: -120.4561},
}

var demoLandmarks = []journey.Landmark{
	{ID: "angels-camp", Name: "Angels Camp", Position: demoRoute[0], DistanceFromStartMeters: journey.Float(0)},
	{ID: "vallecito", Name: "Vallecito", Position: geo.Point{Latitude: 38.0893, Longitude: -120.4860}},
	{ID: "murphys", Name: "Murphys", Position: demoRoute[len(demoRoute)-1]},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "simulate":
		handleSimulate()
	case "project":
		handleProject()
	case "interpolate":
		handleInterpolate()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func handleSimulate() {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	configPath := fs.String("config", "journey.yaml", "Path to YAML config file")
	remote := fs.Bool("remote", false, "Use the journey API from config instead of the built-in demo journey")
	userID := fs.String("user", demoUser, "User ID")
	journeyID := fs.String("journey", demoJourney, "Journey ID")
	step := fs.Float64("step", 10, "Percent to advance per tick")
	kmlPath := fs.String("kml", "", "Write the final journey to this KML file")

	fs.Parse(os.Args[2:])

	ctx := logging.With(context.Background(), logging.NewDevLogger())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var backend journey.Backend
	var demo *memory.Backend
	if *remote {
		backend = journeyapi.NewClient(cfg.API.BaseURL, cfg.API.AuthToken, cfg.API.Timeout)
		log.Printf("Using journey API at %s", cfg.API.BaseURL)
	} else {
		demo = memory.NewBackend()
		demo.CaptureRadiusMeters = cfg.Engine.CaptureRadiusMeters
		demo.AddJourney(demoJourney, demoRoute, demoLandmarks)
		demo.SetProgress(*userID, demoJourney, journey.ProgressState{SessionID: "demo-session", Percent: journey.Float(0)})
		backend = demo
		*journeyID = demoJourney
	}

	identity, closeStore := newIdentityCache(ctx, cfg, backend)
	defer closeStore()

	sessionCfg := services.SessionConfig{
		Gate:       cfg.Engine.StampsConfig(),
		Mode:       cfg.Engine.Mode(),
		Reconciler: progress.DefaultReconciler{},
	}
	listener := stamps.WithListener(func(tr stamps.Transition) {
		log.Printf("  %s: %s -> %s", tr.LandmarkID, tr.From, tr.To)
	})

	session, err := services.OpenSession(ctx, backend, identity, *userID, *journeyID, sessionCfg, listener)
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}
	defer session.Close(ctx)

	log.Printf("Journey %s: %d waypoints, %.2f km (%s)",
		*journeyID, session.Model().WaypointCount(), session.Model().TotalLengthMeters()/1000, sessionCfg.Mode)

	var snap services.Snapshot
	if demo == nil {
		snap, err = session.Refresh(ctx)
		if err != nil {
			log.Fatalf("Failed to refresh progress: %v", err)
		}
		printSnapshot(snap)
	} else {
		if *step <= 0 {
			log.Fatalf("Step must be positive, got %.2f", *step)
		}
		for percent := 0.0; ; percent += *step {
			percent = min(percent, 100)
			demo.SetProgress(*userID, demoJourney, journey.ProgressState{SessionID: "demo-session", Percent: journey.Float(percent)})
			if snap, err = session.Refresh(ctx); err != nil {
				log.Fatalf("Failed to refresh progress: %v", err)
			}
			printSnapshot(snap)
			collectEligible(ctx, session, snap)

			if percent >= 100 {
				break
			}
		}
		snap = session.Snapshot()
		printJourneyList(ctx, backend, *userID, session)
	}

	if *kmlPath != "" {
		writeKML(*kmlPath, *journeyID, snap)
	}
}

func newIdentityCache(ctx context.Context, cfg *config.Config, backend journey.Backend) (*cache.IdentityCache, func()) {
	memCache := cache.NewCache(cfg.Identity.TTL)
	if cfg.Identity.TTL > 0 && cfg.Identity.CleanupInterval > 0 {
		memCache.StartPeriodicCleanup(ctx, cfg.Identity.CleanupInterval)
	}

	if cfg.Identity.StorePath == "" {
		return cache.NewIdentityCache(memCache, nil, backend), func() {}
	}

	store, err := cache.OpenSQLiteStore(cfg.Identity.StorePath)
	if err != nil {
		log.Fatalf("Failed to open identity store: %v", err)
	}
	return cache.NewIdentityCache(memCache, store, backend), func() {
		if err := store.Close(); err != nil {
			log.Printf("Failed to close identity store: %v", err)
		}
	}
}

func collectEligible(ctx context.Context, session *services.JourneySession, snap services.Snapshot) {
	for _, l := range snap.Landmarks {
		if l.State != stamps.Eligible {
			continue
		}
		state, err := session.Collect(ctx, l.Landmark.ID)
		if err != nil {
			log.Printf("  Failed to collect %s: %v", l.Landmark.ID, err)
			continue
		}
		log.Printf("  Collected %s (%s)", l.Landmark.Name, state)
	}
}

func printSnapshot(snap services.Snapshot) {
	next := "none"
	if snap.Next != nil {
		next = fmt.Sprintf("%s at %.0f m", snap.Next.Landmark.Name, snap.Next.OffsetMeters)
	}
	log.Printf("%5.1f%% %8.0f m  (%.6f, %.6f)  next: %s",
		snap.Percent, snap.ProgressMeters, snap.Marker.Latitude, snap.Marker.Longitude, next)
}

func printJourneyList(ctx context.Context, backend journey.Backend, userID string, session *services.JourneySession) {
	list := services.NewJourneyListService(backend, nil, 1)
	items := list.List(ctx, userID, []services.JourneySummary{{
		JourneyID:         session.JourneyID(),
		Name:              "Angels Camp to Murphys",
		Percent:           journey.Float(0),
		TotalLengthMeters: session.Model().TotalLengthMeters(),
	}})
	for _, item := range items {
		log.Printf("List: %s %.1f%% (corrected: %t)", item.Name, item.ResolvedPercent, item.Corrected)
	}
}

func writeKML(path, name string, snap services.Snapshot) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	marker := snap.Marker
	err = export.Write(f, export.Journey{
		Name:      name,
		Completed: snap.Completed,
		Remaining: snap.Remaining,
		Landmarks: snap.Landmarks,
		Marker:    &marker,
	})
	if err != nil {
		log.Fatalf("Failed to write KML: %v", err)
	}
	log.Printf("Wrote %s", path)
}

func handleProject() {
	fs := flag.NewFlagSet("project", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Latitude of point")
	lng := fs.Float64("lng", 0, "Longitude of point")
	polylineStr := fs.String("polyline", "", "Encoded polyline string")

	fs.Parse(os.Args[2:])

	if *polylineStr == "" {
		fmt.Println("Example usage:")
		fmt.Println("  journey-sim project --lat 38.0893 --lng -120.4860 --polyline '_p~iF~ps|U_ulLnnqC'")
		os.Exit(1)
	}

	model := mustModel(*polylineStr)
	p, err := route.ProjectOntoRoute(geo.Point{Latitude: *lat, Longitude: *lng}, model)
	if err != nil {
		log.Fatalf("Error projecting point: %v", err)
	}

	fmt.Printf("Projection onto route (%.2f m total):\n", model.TotalLengthMeters())
	fmt.Printf("  Arc length: %.2f meters\n", p.ArcLengthMeters)
	fmt.Printf("  Off route: %.2f meters\n", p.PerpendicularDistanceMeters)
	fmt.Printf("  Segment: %d\n", p.SegmentIndex)
	fmt.Printf("  Foot: (%.6f, %.6f)\n", p.Point.Latitude, p.Point.Longitude)
}

func handleInterpolate() {
	fs := flag.NewFlagSet("interpolate", flag.ExitOnError)
	percent := fs.Float64("percent", 50, "Completion percent")
	mode := fs.String("mode", route.IndexSpace.String(), "Interpolation mode (index_space or arc_length)")
	polylineStr := fs.String("polyline", "", "Encoded polyline string")

	fs.Parse(os.Args[2:])

	if *polylineStr == "" {
		fmt.Println("Example usage:")
		fmt.Println("  journey-sim interpolate --percent 45 --mode arc_length --polyline '_p~iF~ps|U_ulLnnqC'")
		os.Exit(1)
	}

	model := mustModel(*polylineStr)
	pos, err := route.InterpolateWithMode(model, route.AtPercent(*percent), route.ParseMode(*mode))
	if err != nil {
		log.Fatalf("Error interpolating: %v", err)
	}
	split := route.SplitRoute(model, pos.ExactIndex, nil).Encoded()

	fmt.Printf("Position at %.1f%%:\n", *percent)
	fmt.Printf("  Point: (%.6f, %.6f)\n", pos.Point.Latitude, pos.Point.Longitude)
	fmt.Printf("  Exact index: %.4f\n", pos.ExactIndex)
	fmt.Printf("  Completed: %s\n", split.Completed.EncodedPolyline)
	fmt.Printf("  Remaining: %s\n", split.Remaining.EncodedPolyline)
}

func mustModel(encoded string) *route.DistanceModel {
	points, err := geo.DecodePolyline(encoded)
	if err != nil {
		log.Fatalf("Error decoding polyline: %v", err)
	}
	model, err := route.Build(points)
	if err != nil {
		log.Fatalf("Error building route: %v", err)
	}
	return model
}

func printUsage() {
	fmt.Println("journey-sim - Journey progress simulator")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  journey-sim <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  simulate      Walk a journey from start to finish, collecting stamps")
	fmt.Println("  project       Project a point onto an encoded route")
	fmt.Println("  interpolate   Find the position at a completion percent")
	fmt.Println("  help          Show this help")
}
