package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"manga-dissector/src/clipboard"
	"manga-dissector/src/llm"
	"manga-dissector/src/singleinstance"
)

// ResultTarget receives the outcome of a finished cycle in addition to the tooltip.
type ResultTarget interface {
	OnSuccess(a *llm.Analysis) error
	OnFailure(err error) error
}

// Format renders an analysis for text consumers: the translation, or the whole
// analysis as indented JSON.
func Format(a *llm.Analysis, asJSON bool) (string, error) {
	if a == nil {
		return "", errors.New("no analysis")
	}
	if asJSON {
		b, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode analysis: %w", err)
		}
		return string(b), nil
	}
	if a.NoText {
		return "", nil
	}
	if a.Translation != "" {
		return a.Translation, nil
	}
	return a.OriginalText, nil
}

// ClipboardTarget copies the translation to the system clipboard.
type ClipboardTarget struct {
	// Copy defaults to clipboard.Write.
	Copy func(text string) error
}

func (t ClipboardTarget) OnSuccess(a *llm.Analysis) error {
	text, err := Format(a, false)
	if err != nil || text == "" {
		return err
	}
	copyFn := t.Copy
	if copyFn == nil {
		copyFn = clipboard.Write
	}
	if err := copyFn(text); err != nil {
		return fmt.Errorf("clipboard error: %w", err)
	}
	return nil
}

func (ClipboardTarget) OnFailure(err error) error { return nil }

type StdoutTarget struct {
	Writer io.Writer
	JSON   bool
}

func (t StdoutTarget) OnSuccess(a *llm.Analysis) error {
	w := t.Writer
	if w == nil {
		w = os.Stdout
	}
	text, err := Format(a, t.JSON)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, text)
	return err
}

func (t StdoutTarget) OnFailure(err error) error { return nil }

// DelegatedTarget answers a WAIT-mode client connection once, then closes it.
type DelegatedTarget struct {
	Conn singleinstance.Conn
}

func (t DelegatedTarget) OnSuccess(a *llm.Analysis) error {
	if t.Conn == nil {
		return errors.New("delegated target missing connection")
	}
	defer t.Conn.Close()
	text, err := Format(a, t.Conn.Request().JSON)
	if err != nil {
		_ = t.Conn.RespondError(err.Error())
		return err
	}
	return t.Conn.RespondSuccess(text)
}

func (t DelegatedTarget) OnFailure(err error) error {
	if t.Conn == nil {
		return nil
	}
	defer t.Conn.Close()
	if err == nil {
		return t.Conn.RespondError("unknown session error")
	}
	return t.Conn.RespondError(UserMessage(err))
}

// Targets fans a result out to several targets. Nil entries are skipped.
type Targets []ResultTarget

func (ts Targets) OnSuccess(a *llm.Analysis) error {
	var errs []error
	for _, t := range ts {
		if t != nil {
			errs = append(errs, t.OnSuccess(a))
		}
	}
	return errors.Join(errs...)
}

func (ts Targets) OnFailure(err error) error {
	var errs []error
	for _, t := range ts {
		if t != nil {
			errs = append(errs, t.OnFailure(err))
		}
	}
	return errors.Join(errs...)
}
