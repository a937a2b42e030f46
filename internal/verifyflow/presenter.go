package verifyflow

import (
	"encoding/base64"
	"strings"

	"github.com/park285/Cheese-Gatekeeper-bot/pkg/verifydto"
)

// Presenter delivers formatted messages and code cards without coupling to the
// command layer.
type Presenter struct {
	sendMessage func(room, message string) error
	sendImage   func(room, imageBase64 string) error
}

func NewPresenter(sendMessage func(room, message string) error, sendImage func(room, imageBase64 string) error) *Presenter {
	return &Presenter{
		sendMessage: sendMessage,
		sendImage:   sendImage,
	}
}

func (p *Presenter) Text(room, message string) error {
	if p == nil || p.sendMessage == nil {
		return nil
	}
	if strings.TrimSpace(message) == "" {
		return nil
	}
	return p.sendMessage(room, message)
}

// Card sends the text first, then the code card image when present.
func (p *Presenter) Card(room, message string, view *verifydto.SessionView) error {
	if p == nil {
		return nil
	}

	if text := strings.TrimSpace(message); text != "" && p.sendMessage != nil {
		if err := p.sendMessage(room, message); err != nil {
			return err
		}
	}

	if view != nil && len(view.CardImage) > 0 && p.sendImage != nil {
		encoded := base64.StdEncoding.EncodeToString(view.CardImage)
		if err := p.sendImage(room, encoded); err != nil {
			return err
		}
	}

	return nil
}
