// Package tgui provides small Telegram rendering helpers: safe-by-default
// HTML building for ParseMode="HTML" and rune-aware truncation.
package tgui
