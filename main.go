// rigchat - local LLM chat orchestration over a llama daemon.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/generate"
	"github.com/jeranaias/rigchat/internal/kv"
	"github.com/jeranaias/rigchat/internal/library"
	"github.com/jeranaias/rigchat/internal/llama"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/repo"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/viewstate"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log)
	log.Info().Str("version", Version).Str("commit", GitCommit).Msg("rigchat starting")

	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	histStore := storage.NewHistoryStore(store, log)
	chats := repo.New(histStore, log)

	client := llama.NewClientWithConfig(&llama.ClientConfig{
		BaseURL:     cfg.Engine.DaemonURL,
		Timeout:     time.Duration(cfg.Engine.TimeoutSecs) * time.Second,
		LoadTimeout: time.Duration(cfg.Engine.LoadTimeoutSecs) * time.Second,
	})

	sess := session.NewManager(client, store, log)
	sess.SetRuntimeParams(engine.RuntimeParams{
		ContextSize: cfg.Engine.ContextSize,
		BatchSize:   cfg.Engine.BatchSize,
		ThreadCount: cfg.Engine.Threads,
		GPULayers:   cfg.Engine.GPULayers,
	})
	sess.SetSamplingParams(engine.SamplingParams{
		Temperature: cfg.Sampling.Temperature,
		TopP:        cfg.Sampling.TopP,
		MaxTokens:   cfg.Sampling.MaxTokens,
	})

	lib, err := library.New(cfg.Models.Dir, sess, log)
	if err != nil {
		return err
	}
	watcher, err := lib.Watch(time.Duration(cfg.Models.WatchDebounceMs)*time.Millisecond, func(models []library.ModelFile) {
		log.Info().Int("count", len(models)).Msg("model library changed")
	})
	if err != nil {
		log.Warn().Err(err).Msg("model watcher unavailable")
	} else {
		defer watcher.Close()
	}

	coord := generate.NewCoordinator(chats, sess, &consoleSubscriber{}, log, generate.Options{
		SystemPrompt: cfg.Chat.SystemPrompt,
		BatchSize:    cfg.Chat.StreamBatchSize,
		MaxFPS:       cfg.Chat.StreamMaxFPS,
	})
	screen := viewstate.NewScreen(chats, coord, log)

	ctx := context.Background()
	if err := client.CheckRunning(ctx); err != nil {
		log.Warn().Err(err).Msg("inference daemon unreachable; /load will fail until it is running")
	} else if cfg.Models.AutoReloadLast {
		autoReload(ctx, sess, log)
	}

	// Ctrl+C cancels an in-flight generation; a second one exits.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigs {
			if coord.State() == generate.StateGenerating {
				fmt.Println("\n[stopping...]")
				coord.Cancel()
				continue
			}
			screen.Teardown()
			os.Exit(0)
		}
	}()

	return repl(ctx, &app{
		cfg:    cfg,
		log:    log,
		chats:  chats,
		sess:   sess,
		lib:    lib,
		coord:  coord,
		screen: screen,
	})
}

func openStore(cfg config.StorageConfig) (kv.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	switch cfg.Backend {
	case "sqlite":
		return kv.OpenSQLiteStore(cfg.Path)
	default:
		return kv.OpenFileStore(cfg.Path)
	}
}

func autoReload(ctx context.Context, sess *session.Manager, log zerolog.Logger) {
	path, ok := sess.LastUsedPath()
	if !ok {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := sess.LoadModel(ctx, session.ModelRef{Name: name, Path: path}); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("auto-reload of last model failed")
	}
}

// =============================================================================
// CONSOLE STREAMING
// =============================================================================

// consoleSubscriber renders generation progress onto stdout.
type consoleSubscriber struct{}

func (consoleSubscriber) OnTokens(chatID, batch string) {
	fmt.Print(batch)
}

func (consoleSubscriber) OnCompleted(chatID string, msg *model.Message) {
	fmt.Printf("\n\n[%d tokens, %.1f tok/s]\n", msg.TokenCount, msg.TokensPerSec)
}

func (consoleSubscriber) OnCancelled(chatID string) {
	fmt.Println("\n[cancelled]")
}

func (consoleSubscriber) OnError(chatID string, err error) {
	fmt.Println("\n[generation failed:", err.Error()+"]")
}

// =============================================================================
// REPL
// =============================================================================

type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	chats  *repo.ChatRepository
	sess   *session.Manager
	lib    *library.Library
	coord  *generate.Coordinator
	screen *viewstate.Screen
}

func repl(ctx context.Context, a *app) error {
	fmt.Println("rigchat", Version, "- type /help for commands")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := a.command(ctx, line)
			if err != nil {
				fmt.Println("error:", err)
			}
			if quit {
				return nil
			}
			continue
		}

		a.send(ctx, line)
	}
}

func (a *app) send(ctx context.Context, content string) {
	if !a.screen.Mounted() {
		fmt.Println("no chat open; use /new or /open <id>")
		return
	}
	if a.screen.NeedsPrompt() {
		fmt.Println("this chat needs an instruction first; use /prompt <instruction>")
		return
	}
	if err := a.screen.Send(ctx, content); err != nil {
		fmt.Println("error:", err)
	}
}

func (a *app) command(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		a.screen.Teardown()
		return true, a.sess.Unload(ctx)

	case "/help":
		printHelp()
		return false, nil

	case "/models":
		models, err := a.lib.List()
		if err != nil {
			return false, err
		}
		if len(models) == 0 {
			fmt.Println("no models in", a.lib.Dir())
			return false, nil
		}
		loaded, _ := a.sess.LoadedModel()
		for _, m := range models {
			marker := " "
			if m.Name == loaded.Name {
				marker = "*"
			}
			fmt.Printf(" %s %-24s %6.1f MB\n", marker, m.Name, float64(m.SizeBytes)/(1<<20))
		}
		return false, nil

	case "/load":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /load <name>")
		}
		mf, err := a.lib.Resolve(args[0])
		if err != nil {
			return false, err
		}
		fmt.Println("loading", mf.Name, "...")
		if err := a.sess.LoadModel(ctx, session.ModelRef{Name: mf.Name, Path: mf.Path}); err != nil {
			return false, err
		}
		fmt.Println("loaded:", a.sess.Describe())
		return false, nil

	case "/unload":
		return false, a.sess.Unload(ctx)

	case "/info":
		fmt.Println(a.sess.Describe())
		return false, nil

	case "/import":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /import <path>")
		}
		mf, err := a.lib.Import(ctx, args[0])
		if err != nil {
			return false, err
		}
		fmt.Println("imported", mf.Name)
		return false, nil

	case "/download":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: /download <url> <name>")
		}
		mf, err := a.lib.Download(ctx, args[0], args[1], func(pct float64) {
			fmt.Printf("\r%5.1f%%", pct)
		})
		if err != nil {
			fmt.Println()
			return false, err
		}
		fmt.Printf("\rdownloaded %s (%.1f MB)\n", mf.Name, float64(mf.SizeBytes)/(1<<20))
		return false, nil

	case "/delete":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /delete <name>")
		}
		return false, a.lib.Delete(ctx, args[0])

	case "/new":
		mode := model.ModeConversation
		if len(args) == 1 && args[0] == "single" {
			mode = model.ModeSingleInteractive
		}
		loaded, ok := a.sess.LoadedModel()
		if !ok {
			return false, session.ErrNotLoaded
		}
		chat, err := a.chats.CreateChat(loaded.Name, mode)
		if err != nil {
			return false, err
		}
		if err := a.screen.Mount(chat.ID); err != nil {
			return false, err
		}
		fmt.Println("opened", chat.ID)
		return false, nil

	case "/chats":
		history := a.chats.GetHistory()
		if len(history.Chats) == 0 {
			fmt.Println("no chats yet")
			return false, nil
		}
		for id, chat := range history.Chats {
			marker := " "
			if id == history.CurrentChatID {
				marker = "*"
			}
			fmt.Printf(" %s %s  %-30s (%s, %d messages)\n", marker, id, chat.Title, chat.Mode, chat.MessageCount())
		}
		return false, nil

	case "/open":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /open <chat-id>")
		}
		if err := a.screen.Mount(args[0]); err != nil {
			return false, err
		}
		fmt.Println("opened:", a.screen.Title())
		for _, msg := range reverse(a.screen.Messages()) {
			fmt.Printf("[%s] %s\n", msg.Role, msg.Preview(100))
		}
		return false, nil

	case "/prompt":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /prompt <instruction>")
		}
		return false, a.screen.ConfigurePrompt(strings.Join(args, " "))

	case "/title":
		fmt.Println(a.screen.Title())
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func reverse(msgs []*model.Message) []*model.Message {
	out := make([]*model.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

func printHelp() {
	fmt.Print(`commands:
  /models                list model files
  /load <name>           load a model
  /unload                unload the current model
  /info                  show loaded model info
  /import <path>         copy a model file into the library
  /download <url> <name> download a model file
  /delete <name>         delete a model file
  /new [single]          start a chat (optionally single-interactive)
  /chats                 list chats
  /open <chat-id>        open a chat
  /prompt <instruction>  set the fixed instruction (single mode)
  /title                 show the chat title
  /quit                  exit

anything else is sent to the open chat; Ctrl+C stops a running reply.
`)
}
