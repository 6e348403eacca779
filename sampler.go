// SPDX-License-Identifier: GPL-2.0-or-later

package sampler

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"sampler/pkg/capture"
	"sampler/pkg/log"
	"sampler/pkg/movie"
	"sampler/pkg/storage"
)

// Run .
func Run() error {
	envFlag := flag.String("env", "", "path to env.yaml")
	flag.Parse()

	if *envFlag == "" {
		flag.Usage()
		return nil
	}

	envPath, err := filepath.Abs(*envFlag)
	if err != nil {
		return fmt.Errorf("could not get absolute path of env.yaml: %w", err)
	}

	wg := &sync.WaitGroup{}
	app, err := newApp(envPath, wg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// SIGUSR1 toggles recording, SIGUSR2 rotates the source by 90 degrees.
	control := make(chan os.Signal, 1)
	signal.Notify(control, syscall.SIGUSR1, syscall.SIGUSR2)

	err = app.handleSignals(ctx, stop, control, fatal)

	cancel()
	wg.Wait()

	return err
}

func newApp(envPath string, wg *sync.WaitGroup) (*App, error) {
	// Environment config.
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not read env.yaml: %w", err)
	}

	env, err := storage.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}

	logLevel, err := log.ParseLevel(env.LogLevel)
	if err != nil {
		return nil, err
	}

	// Logs.
	logger := log.NewLogger(wg)
	logDB := log.NewDB(env.LogDBPath(), wg)

	// Storage.
	storageManager := storage.NewManager(env.StorageDir, env.DiskSpaceBytes(), logger)

	// Capture.
	source, err := capture.NewSyntheticSource(capture.SyntheticConfig{
		Width:      env.Source.Width,
		Height:     env.Source.Height,
		FrameRate:  env.Source.FrameRate,
		SampleRate: env.Source.SampleRate,
		Paced:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create source: %w", err)
	}
	rotation := capture.NewRotationCoordinator(env.Source.Rotation)

	recorder := capture.NewRecorder(capture.RecorderConfig{
		Source:   source,
		Rotation: rotation,
		Saver:    storageManager,
		Writer: movie.Config{
			Dir:          env.TempDir,
			QueueDepth:   env.QueueDepth,
			MinFreeSpace: env.MinFreeSpaceBytes(),
			FreeSpace:    storage.FreeSpace,
		},
		MaxDuration: time.Duration(env.RecordDuration) * time.Second,
		Logger:      logger,
	})

	return &App{
		WG:       wg,
		Logger:   logger,
		logLevel: logLevel,
		logDB:    logDB,
		Env:      *env,
		Storage:  storageManager,
		source:   source,
		rotation: rotation,
		angle:    env.Source.Rotation,
		Recorder: recorder,
	}, nil
}

// App is the main application struct.
type App struct {
	WG       *sync.WaitGroup
	Logger   *log.Logger
	logLevel log.Level
	logDB    *log.DB
	Env      storage.ConfigEnv
	Storage  *storage.Manager
	source   *capture.SyntheticSource
	rotation *capture.RotationCoordinator
	angle    float64
	Recorder *capture.Recorder
}

func (app *App) run(ctx context.Context) error {
	app.Logger.Start(ctx)

	app.WG.Add(1)
	go func() {
		app.Logger.LogToStdout(ctx, app.logLevel)
		app.WG.Done()
	}()

	if err := app.Env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}

	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if log database is corrupt.
		time.Sleep(10 * time.Millisecond)
		app.logf(log.LevelError, "could not initialize log database: %v", err)
	} else {
		go app.logDB.SaveLogs(ctx, app.Logger)
		time.Sleep(10 * time.Millisecond)
	}

	app.logf(log.LevelInfo, "starting..")

	// The library stays open until the recorder has saved its last recording.
	storageCtx, cancelStorage := context.WithCancel(context.Background())
	if err := app.Storage.Open(storageCtx, app.WG); err != nil {
		cancelStorage()
		return fmt.Errorf("could not open storage: %w", err)
	}
	if app.Env.DiskSpace != 0 {
		go app.Storage.PurgeLoop(ctx, 10*time.Minute)
	}

	app.WG.Add(1)
	go func() {
		app.Recorder.Run(ctx)
		cancelStorage()
		app.WG.Done()
	}()

	go func() {
		if err := app.source.Run(ctx); err != nil {
			app.logf(log.LevelError, "source stopped: %v", err)
		}
	}()

	if _, err := app.Recorder.Toggle(ctx); err != nil {
		app.logf(log.LevelError, "could not start recording: %v", err)
	}

	<-ctx.Done()
	return nil
}

func (app *App) handleSignals(
	ctx context.Context,
	stop <-chan os.Signal,
	control <-chan os.Signal,
	fatal <-chan error,
) error {
	for {
		select {
		case err := <-fatal:
			app.logf(log.LevelError, "fatal error: %v", err)
			return err

		case signal := <-stop:
			app.logf(log.LevelInfo, "received %v, stopping", signal)
			return nil

		case signal := <-control:
			switch signal {
			case syscall.SIGUSR1:
				recording, err := app.Recorder.Toggle(ctx)
				if err != nil {
					app.logf(log.LevelError, "toggle recording: %v", err)
					continue
				}
				app.logf(log.LevelInfo, "recording: %v", recording)

			case syscall.SIGUSR2:
				app.angle = math.Mod(app.angle+90, 360)
				app.rotation.Set(app.angle)
				app.logf(log.LevelInfo, "rotation: %v", app.angle)
			}
		}
	}
}

func (app *App) logf(level log.Level, format string, a ...interface{}) {
	app.Logger.Log(log.Entry{
		Level: level,
		Src:   "app",
		Msg:   fmt.Sprintf(format, a...),
	})
}
