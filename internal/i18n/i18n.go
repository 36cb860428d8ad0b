// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package i18n

import (
	"context"
	"embed"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed translations/*.toml
var translationFS embed.FS

var (
	bundle   *i18n.Bundle
	initOnce sync.Once
	initErr  error
)

// Supported lists the languages with a translation file, default first.
var Supported = []language.Tag{
	language.English,
	language.Turkish,
}

type localeContextKey struct{}
type localizerContextKey struct{}

// Init loads the embedded translations. It is safe to call more than once.
func Init() error {
	initOnce.Do(func() {
		b := i18n.NewBundle(language.English)
		b.RegisterUnmarshalFunc("toml", toml.Unmarshal)

		for _, file := range []string{
			"translations/active.en.toml",
			"translations/active.tr.toml",
		} {
			if _, err := b.LoadMessageFileFS(translationFS, file); err != nil {
				initErr = err
				return
			}
		}
		bundle = b
	})
	return initErr
}

// WithLocale adds the locale to the context.
func WithLocale(ctx context.Context, lang language.Tag) context.Context {
	base, _ := lang.Base()
	locale := base.String()
	ctx = context.WithValue(ctx, localeContextKey{}, locale)
	if bundle == nil {
		return ctx
	}
	return context.WithValue(ctx, localizerContextKey{}, i18n.NewLocalizer(bundle, locale))
}

// GetLocale returns the current locale from context.
func GetLocale(ctx context.Context) string {
	if locale, ok := ctx.Value(localeContextKey{}).(string); ok {
		return locale
	}
	return "en"
}

// T translates a message by ID.
func T(ctx context.Context, messageID string) string {
	return TData(ctx, messageID, nil)
}

// TData translates a message with template data. Unknown IDs come back
// unchanged.
func TData(ctx context.Context, messageID string, data map[string]any) string {
	localizer := getLocalizer(ctx)
	if localizer == nil {
		return messageID
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}
	return msg
}

// MatchLanguage matches the best language from an Accept-Language header.
func MatchLanguage(acceptLanguage string) language.Tag {
	matcher := language.NewMatcher(Supported)
	_, idx, _ := matcher.Match(parseAccept(acceptLanguage)...)
	return Supported[idx]
}

func parseAccept(acceptLanguage string) []language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil {
		return nil
	}
	return tags
}

func getLocalizer(ctx context.Context) *i18n.Localizer {
	if localizer, ok := ctx.Value(localizerContextKey{}).(*i18n.Localizer); ok {
		return localizer
	}
	if bundle == nil {
		return nil
	}
	return i18n.NewLocalizer(bundle, "en")
}
