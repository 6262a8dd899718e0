package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	capturestudio "github.com/menta2k/capture-studio"
	"github.com/menta2k/capture-studio/internal/config"
	"github.com/menta2k/capture-studio/internal/utils"
)

func main() {
	var in, outDir, configPath, envFile, userID, detector string
	var save, list, serve bool
	var seed int64

	flag.StringVar(&in, "in", "", "input image or directory of images (jpg/png/webp/gif)")
	flag.StringVar(&outDir, "out", "out", "output directory for previews and overlays")
	flag.StringVar(&configPath, "config", "", "JSON config file (default: "+config.GetConfigPath()+" when present)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file with CAPTURE_* overrides")
	flag.StringVar(&detector, "detector", "", "detector backend: mock|saliency|ollama|llamacpp")
	flag.BoolVar(&save, "save", false, "save the selected subject of each capture to the collection")
	flag.StringVar(&userID, "user", "local", "user id recorded with saved artworks")
	flag.BoolVar(&list, "list", false, "list the most recent saved artworks and exit")
	flag.BoolVar(&serve, "serve", false, "run the HTTP server")
	flag.Int64Var(&seed, "seed", 0, "random seed (0 seeds from the clock)")
	flag.Parse()

	cfg := loadConfig(configPath)
	cfg.ApplyEnv(envFile)
	if detector != "" {
		cfg.Detection.Backend = detector
	}
	if seed != 0 {
		cfg.Seed = seed
	}

	studio, err := capturestudio.NewWithConfig(cfg, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer studio.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case list:
		listArtworks(ctx, studio)
	case serve:
		if err := studio.Serve(ctx); err != nil {
			log.Printf("server stopped: %v", err)
		}
	case in != "":
		processInputs(ctx, studio, in, outDir, save, userID)
	default:
		log.Fatalf("usage: %s -in photo.jpg|dir [-out outdir] [-save -user id] | -list | -serve [-config file] [-detector mock|saliency|ollama|llamacpp]", filepath.Base(os.Args[0]))
	}
}

func loadConfig(path string) *config.Config {
	if path == "" {
		path = config.GetConfigPath()
		if _, err := os.Stat(path); err != nil {
			return config.Default()
		}
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func processInputs(ctx context.Context, studio *capturestudio.Studio, in, outDir string, save bool, userID string) {
	inputs := []string{in}
	if utils.DirExists(in) {
		files, err := utils.ListImageFiles(in)
		if err != nil {
			log.Fatal(err)
		}
		if len(files) == 0 {
			log.Fatalf("no images found in %s", in)
		}
		inputs = files
	}
	if err := utils.EnsureDir(outDir); err != nil {
		log.Fatal(err)
	}

	for _, path := range inputs {
		if err := processOne(ctx, studio, path, outDir, save, userID); err != nil {
			log.Printf("%s: %v", path, err)
		}
	}
}

func processOne(ctx context.Context, studio *capturestudio.Studio, path, outDir string, save bool, userID string) error {
	result, err := studio.ProcessFile(ctx, path)
	if err != nil {
		return err
	}
	log.Printf("%s: %dx%d, %d subjects, state=%s", filepath.Base(path),
		result.Preview.Width, result.Preview.Height, len(result.Session.DetectionBoxes), result.Status.State)
	if result.Status.Note != "" {
		log.Printf("note: %s", result.Status.Note)
	}

	ext := utils.ExtensionForMediaType(result.Preview.MediaType)
	previewPath := utils.GenerateOutputFilename(path, outDir, "", "_pixel", ext)
	if err := os.WriteFile(previewPath, result.Preview.Data, 0o644); err != nil {
		return err
	}
	log.Printf("wrote %s", previewPath)

	overlay, err := studio.Overlay()
	if err != nil {
		return err
	}
	overlayPath := utils.GenerateOutputFilename(path, outDir, "", "_boxes", "png")
	if err := os.WriteFile(overlayPath, overlay, 0o644); err != nil {
		return err
	}
	log.Printf("wrote %s", overlayPath)

	js, _ := json.MarshalIndent(result.Session, "", "  ")
	_ = os.WriteFile(utils.GenerateOutputFilename(path, outDir, "", "_session", "json"), js, 0o644)

	if save {
		id, err := studio.Orchestrator().Save(ctx, userID)
		if err != nil {
			return fmt.Errorf("save failed: %w", err)
		}
		log.Printf("saved artwork %s", id)
	}
	return nil
}

func listArtworks(ctx context.Context, studio *capturestudio.Studio) {
	items, err := studio.Collection().List(ctx, 0)
	if err != nil {
		log.Fatal(err)
	}
	if len(items) == 0 {
		fmt.Println("collection is empty")
		return
	}
	for _, a := range items {
		fmt.Printf("%s  %s  %-20s %-10s %s\n", a.ID, a.CreatedAt.Format("2006-01-02 15:04"), a.Name, a.Category, a.URL)
	}
}
