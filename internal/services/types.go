package services

import (
	"time"

	goa "goa.design/goa/v3/pkg"

	"ringside/internal/database"
	"ringside/internal/pipeline"
)

// ProcessFramePayload is the body of POST /process_frame
type ProcessFramePayload struct {
	// Base64 JPEG/PNG, optionally as a data URL
	Image *string `json:"image"`
}

// ProcessFrameResult is the body of a successful POST /process_frame
type ProcessFrameResult struct {
	Detections pipeline.DetectionSet `json:"detections"`
}

// UploadFrameResult mirrors the detect API response
type UploadFrameResult struct {
	Predictions pipeline.DetectionSet `json:"predictions"`
}

// CreateFighterPayload is the body of POST /fighter
type CreateFighterPayload struct {
	Name      *string `json:"name"`
	Country   *string `json:"country"`
	AvatarURL *string `json:"avatarURL"`
}

// FighterRef points at an existing fighter
type FighterRef struct {
	ID *string `json:"id"`
}

// CreateMatchPayload is the body of POST /match
type CreateMatchPayload struct {
	Title    *string     `json:"title"`
	DateTime *string     `json:"datetime"`
	Fighter1 *FighterRef `json:"fighter1"`
	Fighter2 *FighterRef `json:"fighter2"`
}

// ScorePayload is one fighter's score update
type ScorePayload struct {
	Thrown *int `json:"thrown"`
	Hits   *int `json:"hits"`
}

// UpdateScorePayload is the body of PUT /match/{id}/score
type UpdateScorePayload struct {
	Scores *struct {
		Fighter1 *ScorePayload `json:"fighter1"`
		Fighter2 *ScorePayload `json:"fighter2"`
	} `json:"scores"`
}

// LoginPayload is the body of POST /auth/login
type LoginPayload struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// CreatedResult is returned by the create endpoints
type CreatedResult struct {
	ID string `json:"id"`
}

// MessageResult is a plain acknowledgement
type MessageResult struct {
	Message string `json:"message"`
}

// LoginResult carries a bearer token
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// FighterResult is a fighter as nested in a match
type FighterResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Country   string `json:"country"`
	AvatarURL string `json:"avatarURL"`
}

// MatchResult is a match with both fighters and their scores
type MatchResult struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	DateTime string         `json:"datetime"`
	Fighter1 *FighterResult `json:"fighter1"`
	Fighter2 *FighterResult `json:"fighter2"`
	Scores   struct {
		Fighter1 database.ScoreRecord `json:"fighter1"`
		Fighter2 database.ScoreRecord `json:"fighter2"`
	} `json:"scores"`
}

// HealthResult is returned by the health probes
type HealthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// StatsResult is returned by GET /stats
type StatsResult struct {
	pipeline.StatsSnapshot
	OpenSessions int     `json:"open_sessions"`
	EventClients int     `json:"event_clients"`
	Uptime       float64 `json:"uptime_seconds"`
}

// ValidateCreateFighterPayload runs the validations defined on CreateFighterPayload
func ValidateCreateFighterPayload(p *CreateFighterPayload) (err error) {
	if p.Name == nil || *p.Name == "" {
		err = goa.MergeErrors(err, goa.MissingFieldError("name", "body"))
	}
	if p.Country == nil {
		err = goa.MergeErrors(err, goa.MissingFieldError("country", "body"))
	}
	if p.AvatarURL == nil {
		err = goa.MergeErrors(err, goa.MissingFieldError("avatarURL", "body"))
	}
	return
}

// ValidateCreateMatchPayload runs the validations defined on CreateMatchPayload
func ValidateCreateMatchPayload(p *CreateMatchPayload) (err error) {
	if p.Title == nil || *p.Title == "" {
		err = goa.MergeErrors(err, goa.MissingFieldError("title", "body"))
	}
	if p.DateTime == nil {
		err = goa.MergeErrors(err, goa.MissingFieldError("datetime", "body"))
	} else if _, perr := parseMatchTime(*p.DateTime); perr != nil {
		err = goa.MergeErrors(err, goa.InvalidFormatError("datetime", *p.DateTime, goa.FormatDateTime, perr))
	}
	if p.Fighter1 == nil || p.Fighter1.ID == nil {
		err = goa.MergeErrors(err, goa.MissingFieldError("fighter1.id", "body"))
	}
	if p.Fighter2 == nil || p.Fighter2.ID == nil {
		err = goa.MergeErrors(err, goa.MissingFieldError("fighter2.id", "body"))
	}
	return
}

// ValidateUpdateScorePayload runs the validations defined on UpdateScorePayload
func ValidateUpdateScorePayload(p *UpdateScorePayload) (err error) {
	if p.Scores == nil {
		return goa.MissingFieldError("scores", "body")
	}
	slots := []struct {
		name  string
		score *ScorePayload
	}{
		{"fighter1", p.Scores.Fighter1},
		{"fighter2", p.Scores.Fighter2},
	}
	for _, slot := range slots {
		name, s := slot.name, slot.score
		if s == nil {
			err = goa.MergeErrors(err, goa.MissingFieldError("scores."+name, "body"))
			continue
		}
		if s.Thrown == nil {
			err = goa.MergeErrors(err, goa.MissingFieldError("scores."+name+".thrown", "body"))
		} else if *s.Thrown < 0 {
			err = goa.MergeErrors(err, goa.InvalidRangeError("scores."+name+".thrown", *s.Thrown, 0, true))
		}
		if s.Hits == nil {
			err = goa.MergeErrors(err, goa.MissingFieldError("scores."+name+".hits", "body"))
		} else if *s.Hits < 0 {
			err = goa.MergeErrors(err, goa.InvalidRangeError("scores."+name+".hits", *s.Hits, 0, true))
		}
	}
	return
}

// matchTimeLayouts accepts RFC 3339 and ISO-8601 without an offset (read as UTC)
var matchTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseMatchTime(s string) (t time.Time, err error) {
	for _, layout := range matchTimeLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func newMatchResult(m *database.MatchRecord) *MatchResult {
	res := &MatchResult{
		ID:       m.ID,
		Title:    m.Title,
		DateTime: m.DateTime.Format(time.RFC3339),
		Fighter1: newFighterResult(&m.Fighter1),
		Fighter2: newFighterResult(&m.Fighter2),
	}
	res.Scores.Fighter1 = m.Score1
	res.Scores.Fighter2 = m.Score2
	return res
}

func newFighterResult(f *database.FighterRecord) *FighterResult {
	return &FighterResult{
		ID:        f.ID,
		Name:      f.Name,
		Country:   f.Country,
		AvatarURL: f.AvatarURL,
	}
}
