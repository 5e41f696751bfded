// Command geoproof compares historical satellite imagery of an area and
// serves the comparison API
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/batikanor/geoproof/internal/app"
	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/compare"
	"github.com/batikanor/geoproof/internal/config"
	"github.com/batikanor/geoproof/internal/diff"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd := os.Args[1]; cmd {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "compare":
		err = runCompare(ctx, os.Args[2:])
	case "timeline":
		err = runTimeline(ctx, os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("geoproof version %s\n", app.Version)
	case "help", "-h", "-help", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "geoproof %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the application
func setup(configPath string, override func(*config.Config)) (*app.App, *config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, nil, err
		}
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, cfg, logger, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	addr := fs.String("addr", "", "Listen address (overrides server.addr)")
	fs.Parse(args)

	a, _, _, err := setup(*configPath, func(c *config.Config) {
		if *addr != "" {
			c.Server.Addr = *addr
		}
	})
	if err != nil {
		return err
	}
	defer a.Shutdown()
	return a.Serve(ctx)
}

type sideFlags struct {
	version  *int
	template *string
	source   *string
	label    *string
}

func addSideFlags(fs *flag.FlagSet, name string) sideFlags {
	return sideFlags{
		version:  fs.Int(name+"-version", 0, "Wayback release id for the "+name+" image"),
		template: fs.String(name+"-template", "", "XYZ tile template for the "+name+" image"),
		source:   fs.String(name+"-source", "", "Configured source name for the "+name+" image"),
		label:    fs.String(name+"-label", "", "Label for the "+name+" image"),
	}
}

func (f sideFlags) set() bool {
	return *f.version != 0 || *f.template != "" || *f.source != ""
}

func (f sideFlags) side(cfg *config.Config) (compare.Side, error) {
	side := compare.Side{Label: *f.label, Template: *f.template, VersionID: *f.version}
	if *f.source != "" {
		src, ok := cfg.Source(*f.source)
		if !ok {
			return side, fmt.Errorf("%w: unknown source %q", common.ErrInvalidRequest, *f.source)
		}
		side.Template = src.Template()
		if side.Label == "" {
			side.Label = src.Name
		}
	}
	return side, nil
}

func runCompare(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	bboxStr := fs.String("bbox", "", "Area as minLon,minLat,maxLon,maxLat")
	zoom := fs.Float64("zoom", 0, "Requested zoom (0 uses compare.default_zoom)")
	threshold := fs.Int("threshold", -1, "Change threshold 0-255 (-1 uses compare.threshold)")
	format := fs.String("format", "", "Output format: png, geotiff or both")
	outDir := fs.String("out", "", "Output directory")
	anim := fs.String("animation", "", "Also write an animation: avi or gif")
	before := addSideFlags(fs, "before")
	after := addSideFlags(fs, "after")
	fs.Parse(args)

	bbox, err := geo.ParseBBox(*bboxStr)
	if err != nil {
		return err
	}

	a, cfg, logger, err := setup(*configPath, func(c *config.Config) {
		if *format != "" {
			c.Output.Format = *format
		}
		if *outDir != "" {
			c.Output.Dir = *outDir
		}
		if *anim != "" {
			c.Output.Animation = *anim
		}
	})
	if err != nil {
		return err
	}
	defer a.Shutdown()

	req := compare.Request{BBox: bbox, Zoom: *zoom}
	if *threshold >= 0 {
		opts := diff.Options{
			Threshold:    uint8(min(*threshold, 255)),
			IgnoreClouds: cfg.Compare.IgnoreClouds,
			IgnoreDark:   cfg.Compare.IgnoreDark,
		}
		req.Diff = &opts
	}

	if !before.set() && !after.set() {
		// Pick the oldest and newest distinct releases over the area
		tl, err := a.Service().Timeline(ctx, compare.TimelineRequest{BBox: bbox})
		if err != nil {
			return err
		}
		logger.Info("using timeline releases", "before", tl.SuggestedBeforeID, "after", tl.SuggestedAfterID,
			"distinct", len(tl.Versions))
		req.Before = compare.Side{VersionID: tl.SuggestedBeforeID}
		req.After = compare.Side{VersionID: tl.SuggestedAfterID}
	} else {
		if req.Before, err = before.side(cfg); err != nil {
			return err
		}
		if req.After, err = after.side(cfg); err != nil {
			return err
		}
	}

	res, paths, err := a.Compare(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("%s vs %s: %.2f%% changed (%.4f km²), mean diff %.2f\n",
		res.Before.Label, res.After.Label, res.Stats.ChangedPercent, res.ChangedAreaKm2, res.Stats.MeanDiff)
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func runTimeline(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("timeline", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	bboxStr := fs.String("bbox", "", "Area as minLon,minLat,maxLon,maxLat")
	zoom := fs.Int("zoom", 0, "Probe zoom (0 uses compare.timeline_zoom)")
	limit := fs.Int("limit", 0, "Maximum distinct releases (0 uses compare.timeline_limit)")
	fs.Parse(args)

	bbox, err := geo.ParseBBox(*bboxStr)
	if err != nil {
		return err
	}
	a, _, _, err := setup(*configPath, nil)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	tl, err := a.Service().Timeline(ctx, compare.TimelineRequest{BBox: bbox, Zoom: *zoom, Limit: *limit})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(tl)
}

func printUsage() {
	fmt.Printf("geoproof v%s\n\n", app.Version)
	fmt.Println("USAGE:")
	fmt.Println("  geoproof serve    [-config file] [-addr :8080]")
	fmt.Println("  geoproof compare  -bbox minLon,minLat,maxLon,maxLat [-before-version id | -before-template url | -before-source name]")
	fmt.Println("                    [-after-version id | -after-template url | -after-source name] [-zoom z] [-format png|geotiff|both]")
	fmt.Println("  geoproof timeline -bbox minLon,minLat,maxLon,maxLat [-zoom z] [-limit n]")
	fmt.Println("  geoproof version")
	fmt.Println()
	fmt.Println("Without before/after flags, compare uses the oldest and newest distinct Wayback releases.")
	fmt.Println("Settings come from geoproof.yaml and GEOPROOF_* environment variables.")
}
