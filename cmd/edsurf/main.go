package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/web1havv/edsurf/internal/config"
	"github.com/web1havv/edsurf/internal/engine"
	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/logger"
	"github.com/web1havv/edsurf/internal/publish"
	"github.com/web1havv/edsurf/internal/system"
	"github.com/web1havv/edsurf/internal/watcher"
)

const scriptDir = "input/scripts"

func main() {
	configPtr := flag.String("config", "", "Путь к yaml-конфигурации (по умолчанию встроенные настройки)")
	envPtr := flag.String("env", ".env", "Файл с переменными окружения EDSURF_*")
	jobPtr := flag.String("job", "", "Манифест задания (yaml)")
	pairPtr := flag.String("pair", "", "Пара спикеров, например trump_mrbeast")
	scriptPtr := flag.String("script", "", "Путь к сценарию (по умолчанию: самый свежий файл в input/scripts/)")
	audioPtr := flag.String("audio", "", "Путь к аудио (по умолчанию: самый свежий файл в input/audio/)")
	backgroundPtr := flag.String("background", "", "Фоновое видео, PDF, папка с изображениями или color:#rrggbb")
	outPtr := flag.String("out", "", "Путь к видео (если пусто, генерируется в output/)")
	reusePtr := flag.String("reuse", "", "Таймлайн предыдущего рендера для повторной сборки")
	qrPtr := flag.String("qr", "", "Содержимое QR-значка в углу кадра")
	publishPtr := flag.Bool("publish", false, "Загрузить результат в хранилище")
	watchPtr := flag.Bool("watch", false, "Следить за папкой заданий и рендерить новые манифесты")
	levelPtr := flag.String("log-level", "", "Уровень логов: debug, info, warn, error")
	flag.Parse()

	cfg, err := loadConfig(*configPtr, *envPtr, *levelPtr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] Ошибка конфигурации: %v\n", err)
		os.Exit(exitCode(err))
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] Ошибка логгера: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	system.InitResourceLimits(log)
	for _, d := range []string{cfg.Paths.OutputDir, cfg.Paths.JobsDir, cfg.Paths.AudioDir, scriptDir} {
		if d != "" {
			os.MkdirAll(d, 0o755)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, log)
	if cfg.Storage.Enabled || *publishPtr {
		pub, err := publish.New(cfg.Storage, log)
		if err != nil {
			log.Error("хранилище недоступно", zap.Error(err))
			os.Exit(exitCode(err))
		}
		eng.Publisher = pub
	}

	if *watchPtr {
		if err := watch(ctx, eng, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("наблюдение остановлено", zap.Error(err))
			os.Exit(exitCode(err))
		}
		return
	}

	job, err := buildJob(*jobPtr, flagJob{
		pair:       *pairPtr,
		script:     *scriptPtr,
		audio:      *audioPtr,
		background: *backgroundPtr,
		out:        *outPtr,
		reuse:      *reusePtr,
		qr:         *qrPtr,
		publish:    *publishPtr,
		audioDir:   cfg.Paths.AudioDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] Ошибка задания: %v\n", err)
		os.Exit(exitCode(err))
	}

	report, err := eng.Run(ctx, job)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] Ошибка рендера (%s): %v\n", failure.KindOf(err), err)
		os.Exit(exitCode(err))
	}
	fmt.Printf("[+++] Успех! Результат: %s (%d кадров за %s)\n",
		report.Output, report.Frames, report.Elapsed.Round(time.Millisecond))
}

func loadConfig(path, envFile, level string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, envFile); err != nil {
		return nil, err
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type flagJob struct {
	pair       string
	script     string
	audio      string
	background string
	out        string
	reuse      string
	qr         string
	publish    bool
	audioDir   string
}

// buildJob reads the manifest if one is given, otherwise assembles the job
// from flags, picking the newest script and audio when they are omitted.
func buildJob(manifest string, f flagJob) (*engine.Job, error) {
	if manifest != "" {
		return engine.LoadJob(manifest)
	}
	script := f.script
	if script == "" && f.reuse == "" {
		latest, err := system.FindLatestScript(scriptDir)
		if err != nil {
			return nil, failure.Wrap(failure.AssetMissing, "main", err, "положите сценарий в %s", scriptDir)
		}
		script = latest
		fmt.Printf("[*] Выбран сценарий: %s\n", script)
	}
	audio := f.audio
	if audio == "" && f.audioDir != "" {
		if latest, err := system.FindLatestAudio(f.audioDir); err == nil {
			audio = latest
			fmt.Printf("[*] Выбрано аудио: %s\n", audio)
		}
	}
	return &engine.Job{
		ID:            jobID(script, audio),
		Pair:          f.pair,
		ScriptPath:    script,
		Audio:         audio,
		Background:    f.background,
		Output:        f.out,
		ReuseArtifact: f.reuse,
		QR:            f.qr,
		Publish:       f.publish,
	}, nil
}

// jobID names the output after its script (or audio) and the start time.
func jobID(script, audio string) string {
	src := script
	if src == "" {
		src = audio
	}
	if src == "" {
		return ""
	}
	base := filepath.Base(src)
	name := base[:len(base)-len(filepath.Ext(base))]
	return fmt.Sprintf("%s_%s", name, time.Now().Format("2006-01-02_15-04-05"))
}

func watch(ctx context.Context, eng *engine.Engine, log *zap.Logger) error {
	cfg := eng.Config
	if cfg.Paths.JobsDir == "" {
		return failure.New(failure.ConfigError, "main", "paths.jobs_dir is empty")
	}
	// one job at a time; each job already uses every worker
	w, err := watcher.New(cfg.Paths.JobsDir, 1, 500*time.Millisecond, watcher.RunJobs(eng), log)
	if err != nil {
		return err
	}
	defer w.Close()
	fmt.Printf("[*] Наблюдение за %s\n", cfg.Paths.JobsDir)
	return w.Run(ctx)
}

func exitCode(err error) int {
	switch failure.KindOf(err) {
	case failure.ConfigError:
		return 2
	case failure.ParseError, failure.TimelineError, failure.AssetMissing:
		return 3
	case failure.EncodingUnavailable:
		return 4
	case failure.Cancelled:
		return 130
	default:
		return 1
	}
}
