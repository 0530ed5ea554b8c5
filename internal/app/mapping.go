package app

import (
	"portalshot/internal/capture"
	"portalshot/internal/config"
	"portalshot/internal/notifier"
	"portalshot/internal/storage"
)

func captureSettings(cfg *config.Config, r *config.Resolved) capture.Settings {
	flags := make(map[string]any, len(cfg.Browser.Flags))
	for k, v := range cfg.Browser.Flags {
		flags[k] = v
	}
	return capture.Settings{
		URL:            cfg.Login.URL,
		Username:       cfg.Login.Username,
		Password:       cfg.Login.Password,
		UsernameField:  r.UsernameField,
		PasswordField:  r.PasswordField,
		SubmitSelector: r.SubmitSelector,
		Settle:         r.Settle,
		Directory:      cfg.Screenshot.Directory,
		Headless:       r.Headless,
		WindowWidth:    r.WindowWidth,
		WindowHeight:   r.WindowHeight,
		ExecPath:       cfg.Browser.ExecPath,
		Timeout:        r.BrowserTimeout,
		Flags:          flags,
	}
}

func storageConfig(r *config.Resolved) storage.Config {
	return storage.Config{Driver: r.StorageDriver, Path: r.StoragePath, BusyTimeout: r.StorageBusyTimeout}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	tg := cfg.Notify.Telegram
	return notifier.Config{
		Enabled:        tg.Enabled,
		Token:          tg.Token,
		ChatID:         tg.ChatID,
		ThreadID:       tg.ThreadID,
		RatePerSec:     tg.RatePerSec,
		SendScreenshot: tg.SendScreenshot,
	}
}
