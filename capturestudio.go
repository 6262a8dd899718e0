// Package capturestudio turns photos into pixel-art collectible cards.
//
// A capture runs through a short pipeline: the upload is validated and resized to one of three
// long-edge buckets, subjects are detected and each gets an editable label draft, and a pixel
// style is generated for the preview. A simulated remote model produces the style; when it is
// slow or fails, a local pixel filter takes over. The selected box and its draft can then be
// composed into a card and saved to the collection.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		capturestudio "github.com/menta2k/capture-studio"
//	)
//
//	func main() {
//		studio, err := capturestudio.New()
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer studio.Close()
//
//		result, err := studio.ProcessFile(context.Background(), "photo.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("%d subjects, preview %dx%d\n", len(result.Session.DetectionBoxes),
//			result.Preview.Width, result.Preview.Height)
//
//		id, err := studio.Orchestrator().Save(context.Background(), "player-1")
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println("saved", id)
//	}
//
// The package wires these components:
//
// 1. Store (pkg/store): the observable capture session
// 2. Workflow (pkg/workflow): the capture pipeline, label editor and save flow
// 3. Detection (pkg/detection): mock, saliency and vision-model subject detectors
// 4. Stylize (pkg/stylize): remote and local pixel styles
// 5. Collection (pkg/collection): saved artworks on disk with SQLite or in-memory records
// 6. Server (internal/server): HTTP routes and websocket gestures for a viewer
package capturestudio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/menta2k/capture-studio/internal/config"
	"github.com/menta2k/capture-studio/internal/logger"
	"github.com/menta2k/capture-studio/internal/server"
	"github.com/menta2k/capture-studio/internal/utils"
	"github.com/menta2k/capture-studio/pkg/client"
	"github.com/menta2k/capture-studio/pkg/collection"
	"github.com/menta2k/capture-studio/pkg/describe"
	"github.com/menta2k/capture-studio/pkg/detection"
	"github.com/menta2k/capture-studio/pkg/llamacpp"
	"github.com/menta2k/capture-studio/pkg/ollama"
	"github.com/menta2k/capture-studio/pkg/preview"
	"github.com/menta2k/capture-studio/pkg/processing"
	"github.com/menta2k/capture-studio/pkg/random"
	"github.com/menta2k/capture-studio/pkg/store"
	"github.com/menta2k/capture-studio/pkg/stylize"
	"github.com/menta2k/capture-studio/pkg/types"
	"github.com/menta2k/capture-studio/pkg/workflow"
)

// Version of the capture studio
const Version = "1.0.0"

// Studio holds one fully wired capture session
type Studio struct {
	config       *config.Config
	logger       logger.Leveled
	ownLogger    *logger.Logger
	processor    *processing.Processor
	orchestrator *workflow.Orchestrator
	repo         collection.Repository
	collection   *collection.Service

	serverOnce sync.Once
	server     *server.Server
}

// Result is the state of a capture once its pipeline has settled
type Result struct {
	Session store.Session
	Status  workflow.Status
	// Preview is the displayed preview, empty when the pipeline failed
	Preview preview.Blob
}

// New creates a Studio with the default configuration
func New() (*Studio, error) {
	return NewWithConfig(config.Default(), nil)
}

// NewWithConfig creates a Studio from cfg. A nil logger creates one from cfg.Log.
func NewWithConfig(cfg *config.Config, l logger.Leveled) (*Studio, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Studio{config: cfg}
	if l == nil {
		own, err := logger.New(cfg.Log.Dir)
		if err != nil {
			return nil, err
		}
		s.ownLogger = own
		l = own
	}
	s.logger = l

	var rng random.Source = random.NewTimeSeeded()
	if cfg.Seed != 0 {
		rng = random.New(cfg.Seed)
	}

	s.processor = processing.NewProcessorWithConfig(cfg.Pipeline)

	detector, err := s.buildDetector(rng)
	if err != nil {
		s.Close()
		return nil, err
	}
	describer, err := s.buildDescriber(rng)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := s.buildCollection(); err != nil {
		s.Close()
		return nil, err
	}

	s.orchestrator = workflow.New(store.New(), workflow.Options{
		Processor: s.processor,
		Detector:  detector,
		Stylizer:  stylize.NewRemote(s.processor, cfg.Stylize.RemoteConfig(), rng),
		Fallback:  stylize.NewLocal(s.processor, cfg.Stylize.LocalBlockSize),
		Describer: describer,
		Saver:     s.collection,
		Random:    rng,
		Logger:    l,
	})
	return s, nil
}

func (s *Studio) buildDetector(rng random.Source) (detection.Detector, error) {
	cfg := s.config.Detection
	switch cfg.Backend {
	case config.BackendSaliency:
		sc := detection.DefaultSaliencyConfig()
		sc.MaxResults = cfg.MaxResults
		return detection.NewSaliency(s.processor, sc), nil
	case config.BackendOllama, config.BackendLlamaCpp:
		c, err := newVisionClient(cfg.Backend, cfg.ModelURL)
		if err != nil {
			return nil, err
		}
		return detection.NewVision(c, cfg.Model, cfg.MaxResults), nil
	default:
		return detection.NewMock(rng), nil
	}
}

func (s *Studio) buildDescriber(rng random.Source) (*describe.Describer, error) {
	cfg := s.config.Describe
	var c client.VisionClient
	if cfg.Backend != config.BackendPool {
		var err error
		if c, err = newVisionClient(cfg.Backend, cfg.ModelURL); err != nil {
			return nil, err
		}
	}
	return describe.New(c, cfg.Model, rng).WithLogger(s.logger), nil
}

func newVisionClient(backend, url string) (client.VisionClient, error) {
	switch backend {
	case config.BackendOllama:
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("backend %q has no model client", backend)
}

func (s *Studio) buildCollection() error {
	cfg := s.config.Storage
	switch cfg.Driver {
	case config.DriverMemory:
		s.repo = collection.NewMemoryRepository()
	default:
		if err := utils.EnsureDir(filepath.Dir(cfg.DBPath)); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		repo, err := collection.NewSQLiteRepository(cfg.DBPath)
		if err != nil {
			return err
		}
		s.repo = repo
	}
	s.collection = collection.NewService(s.repo, s.processor, cfg.Dir).WithLogger(s.logger)
	return nil
}

// Config returns the configuration the studio was built from
func (s *Studio) Config() *config.Config { return s.config }

// Processor returns the image processor
func (s *Studio) Processor() *processing.Processor { return s.processor }

// Orchestrator returns the capture workflow
func (s *Studio) Orchestrator() *workflow.Orchestrator { return s.orchestrator }

// Collection returns the artwork collection
func (s *Studio) Collection() *collection.Service { return s.collection }

// Process runs upload through the pipeline and waits for it to settle
func (s *Studio) Process(ctx context.Context, upload *types.Upload) (*Result, error) {
	if _, err := s.orchestrator.AcceptFile(upload); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		s.orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	status := s.orchestrator.Status()
	if status.State == workflow.StateError {
		return nil, fmt.Errorf("processing %s failed: %s", upload.Name, status.Error)
	}
	_, blob, _ := s.orchestrator.DisplayedPreview()
	return &Result{
		Session: s.orchestrator.Store().Snapshot(),
		Status:  status,
		Preview: blob,
	}, nil
}

// ProcessFile reads path and runs it through the pipeline
func (s *Studio) ProcessFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s.Process(ctx, &types.Upload{
		Name:      filepath.Base(path),
		MediaType: utils.MediaTypeFromFilename(path),
		Data:      data,
	})
}

// Overlay draws the detection boxes over the displayed preview and encodes it as PNG
func (s *Studio) Overlay() ([]byte, error) {
	_, blob, ok := s.orchestrator.DisplayedPreview()
	if !ok {
		return nil, fmt.Errorf("no preview to draw on")
	}
	img, err := s.processor.Decode(blob.Data)
	if err != nil {
		return nil, err
	}
	snap := s.orchestrator.Store().Snapshot()
	data, _, err := s.processor.Encode(processing.DrawDetections(img, snap.DetectionBoxes, snap.SelectedBoxID), "image/png")
	return data, err
}

// Server returns the HTTP server of the studio, creating it on first use
func (s *Studio) Server() *server.Server {
	s.serverOnce.Do(func() {
		s.server = server.New(s.orchestrator, s.collection, server.Options{
			Logger:      s.logger,
			MaxUploadMB: s.config.Server.MaxUploadMB,
			SlotCount:   s.config.Server.SlotCount,
		})
	})
	return s.server
}

// Serve runs the HTTP server on the configured address until ctx is cancelled
func (s *Studio) Serve(ctx context.Context) error {
	return s.Server().Run(ctx, s.config.Server.Addr)
}

// Close stops pending work and releases storage and log files
func (s *Studio) Close() error {
	if s.server != nil {
		s.server.Close()
	}
	if s.orchestrator != nil {
		s.orchestrator.Close()
	}
	var firstErr error
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			firstErr = err
		}
	}
	if s.ownLogger != nil {
		if err := s.ownLogger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
