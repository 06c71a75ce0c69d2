package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	logx "alertrelay/pkg/logx"
)

// ResolveChat picks the chat for a dynamic forum topic: the hinted chat when
// a profile serves it, else the first chat of the named profile, else the
// first chat of any profile.
func (b *Broadcaster) ResolveChat(ctx context.Context, chatID int64, profileName string) (int64, bool) {
	ps, err := loadProfiles(ctx, b.src)
	if err != nil || len(ps) == 0 {
		return 0, false
	}
	if chatID != 0 {
		if _, ok := tokenForChat(ps, chatID); ok {
			return chatID, true
		}
	}
	if profileName = strings.TrimSpace(profileName); profileName != "" {
		for _, p := range ps {
			if p.Name == profileName && len(p.ChatIDs) > 0 {
				return p.ChatIDs[0], true
			}
		}
	}
	for _, p := range ps {
		if len(p.ChatIDs) > 0 {
			return p.ChatIDs[0], true
		}
	}
	return 0, false
}

// CreateTopic calls createForumTopic with the token of the profile serving
// chatID.
func (b *Broadcaster) CreateTopic(ctx context.Context, chatID int64, title string, iconColor int) (int, error) {
	ps, err := loadProfiles(ctx, b.src)
	if err != nil {
		return 0, err
	}
	token, ok := tokenForChat(ps, chatID)
	if !ok {
		return 0, fmt.Errorf("no profile serves chat %d", chatID)
	}

	payload := map[string]any{"chat_id": chatID, "name": title}
	if iconColor != 0 {
		payload["icon_color"] = iconColor
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	url := b.cfg.APIURL + "/bot" + token + "/createForumTopic"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
		Result      struct {
			MessageThreadID int `json:"message_thread_id"`
		} `json:"result"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return 0, fmt.Errorf("telegram createForumTopic failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return 0, fmt.Errorf("telegram createForumTopic failed: http=%d", resp.StatusCode)
	}
	if out.Result.MessageThreadID == 0 {
		return 0, fmt.Errorf("telegram createForumTopic: empty thread id")
	}
	b.log.Debug("forum topic created", logx.Int64("chat_id", chatID), logx.String("title", title), logx.Int("thread_id", out.Result.MessageThreadID))
	return out.Result.MessageThreadID, nil
}

func tokenForChat(ps []profile, chatID int64) (string, bool) {
	for _, p := range ps {
		for _, id := range p.ChatIDs {
			if id == chatID {
				return p.Token, true
			}
		}
	}
	return "", false
}
