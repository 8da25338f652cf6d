// Package design describes the ringside HTTP API. The transport in
// internal/services implements it by hand; design_test keeps the two in
// step.
package design

import (
	. "goa.design/goa/v3/dsl"
)

// API definition
var _ = API("ringside", func() {
	Title("Ringside Boxing Analytics")
	Description("Annotated live boxing video, punch detection and match scoring")
	Version("1.0")
	Server("ringside", func() {
		Host("localhost", func() {
			URI("http://localhost:8080")
		})
	})
})

var JWTAuth = JWTSecurity("jwt", func() {
	Description("Bearer token issued by POST /auth/login")
})

// Error types
var InferenceError = Type("InferenceError", func() {
	Description("The inference service failed or answered with garbage")
	Field(1, "error", String, "Error message")
	Field(2, "kind", String, "Failure kind", func() {
		Enum("unavailable", "timeout", "status", "malformed")
	})
	Field(3, "details", String, "Error details")
	Required("error", "kind")
})

var ImageError = Type("ImageError", func() {
	Description("The submitted image could not be decoded")
	Field(1, "error", String, "Error message")
	Field(2, "reason", String, "Decode failure", func() {
		Enum("empty", "base64", "format", "image")
	})
	Field(3, "details", String, "Error details")
	Required("error", "reason")
})

// Data types
var Detection = Type("Detection", func() {
	Description("One object reported by the inference service")
	Field(1, "class", String, "Class label")
	Field(2, "class_id", Int, "Class index")
	Field(3, "confidence", Float64, "Confidence (0-1)")
	Field(4, "x", Float64, "Box X in pixels")
	Field(5, "y", Float64, "Box Y in pixels")
	Field(6, "width", Float64, "Box width in pixels")
	Field(7, "height", Float64, "Box height in pixels")
})

var Fighter = Type("Fighter", func() {
	Field(1, "id", String, "Fighter ID", func() {
		Format(FormatUUID)
	})
	Field(2, "name", String)
	Field(3, "country", String)
	Field(4, "avatarURL", String)
	Required("id", "name", "country", "avatarURL")
})

var Score = Type("Score", func() {
	Field(1, "thrown", Int, "Punches thrown", func() {
		Minimum(0)
	})
	Field(2, "hits", Int, "Punches landed", func() {
		Minimum(0)
	})
	Required("thrown", "hits")
})

var Scores = Type("Scores", func() {
	Field(1, "fighter1", Score)
	Field(2, "fighter2", Score)
	Required("fighter1", "fighter2")
})

var Match = Type("Match", func() {
	Field(1, "id", String, "Match ID", func() {
		Format(FormatUUID)
	})
	Field(2, "title", String)
	Field(3, "datetime", String, func() {
		Format(FormatDateTime)
	})
	Field(4, "fighter1", Fighter)
	Field(5, "fighter2", Fighter)
	Field(6, "scores", Scores)
	Required("id", "title", "datetime", "fighter1", "fighter2", "scores")
})

var FighterRef = Type("FighterRef", func() {
	Field(1, "id", String, "Existing fighter ID")
	Required("id")
})

var Created = Type("Created", func() {
	Field(1, "id", String, "Generated ID", func() {
		Format(FormatUUID)
	})
	Required("id")
})

var Health = Type("Health", func() {
	Field(1, "status", String)
	Field(2, "checks", MapOf(String, String), "Per dependency status")
	Required("status")
})

var Stats = Type("Stats", func() {
	Description("Session and frame counters")
	Field(1, "active_sessions", Int)
	Field(2, "total_sessions", UInt64)
	Field(3, "frames_emitted", UInt64)
	Field(4, "frames_annotated", UInt64)
	Field(5, "inference_failures", UInt64)
	Field(6, "skipped_detections", UInt64)
	Field(7, "close_reasons", MapOf(String, UInt64))
	Field(8, "last_frame_time", String, func() {
		Format(FormatDateTime)
	})
	Field(9, "open_sessions", Int)
	Field(10, "event_clients", Int)
	Field(11, "uptime_seconds", Float64)
})

// Single frame detection service
var _ = Service("frame", func() {
	Description("Run detection on one submitted image")

	Error("bad_request")
	Error("invalid_image", ImageError, "Image could not be decoded")
	Error("inference_failed", InferenceError, "Inference service failed")

	Method("process_frame", func() {
		Description("Detect punches in a base64 image")
		Payload(func() {
			Field(1, "image", String, "Base64 JPEG or PNG, optionally a data URL")
			Required("image")
		})
		Result(func() {
			Field(1, "detections", ArrayOf(Detection))
			Required("detections")
		})
		HTTP(func() {
			POST("/process_frame")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
			Response("invalid_image", StatusBadRequest)
			Response("inference_failed", StatusBadGateway)
		})
	})

	Method("upload_frame", func() {
		Description("Detect punches in an uploaded image file")
		Payload(func() {
			Field(1, "frame", Bytes, "Image file")
			Required("frame")
		})
		Result(func() {
			Field(1, "predictions", ArrayOf(Detection))
			Required("predictions")
		})
		HTTP(func() {
			POST("/upload_frame")
			MultipartRequest()
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
			Response("invalid_image", StatusBadRequest)
			Response("inference_failed", StatusBadGateway)
		})
	})
})

// Match scoring service
var _ = Service("match", func() {
	Description("Fighters, matches and punch scores")

	Method("create_fighter", func() {
		Security(JWTAuth)
		Payload(func() {
			Token("token", String)
			Field(1, "name", String)
			Field(2, "country", String)
			Field(3, "avatarURL", String)
			Required("name", "country", "avatarURL")
		})
		Result(Created)
		Error("bad_request")
		Error("unauthorized")
		HTTP(func() {
			POST("/fighter")
			Response(StatusCreated)
			Response("bad_request", StatusBadRequest)
			Response("unauthorized", StatusUnauthorized)
		})
	})

	Method("create_match", func() {
		Security(JWTAuth)
		Payload(func() {
			Token("token", String)
			Field(1, "title", String)
			Field(2, "datetime", String, "ISO-8601, UTC when no offset is given")
			Field(3, "fighter1", FighterRef)
			Field(4, "fighter2", FighterRef)
			Required("title", "datetime", "fighter1", "fighter2")
		})
		Result(Created)
		Error("bad_request")
		Error("not_found")
		Error("unauthorized")
		HTTP(func() {
			POST("/match")
			Response(StatusCreated)
			Response("bad_request", StatusBadRequest)
			Response("not_found", StatusNotFound)
			Response("unauthorized", StatusUnauthorized)
		})
	})

	Method("get_match", func() {
		Payload(func() {
			Field(1, "id", String, "Match ID")
			Required("id")
		})
		Result(Match)
		Error("not_found")
		HTTP(func() {
			GET("/match/{id}")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
		})
	})

	Method("update_score", func() {
		Security(JWTAuth)
		Payload(func() {
			Token("token", String)
			Field(1, "id", String, "Match ID")
			Field(2, "scores", Scores)
			Required("id", "scores")
		})
		Result(func() {
			Field(1, "message", String)
			Required("message")
		})
		Error("bad_request")
		Error("not_found")
		Error("unauthorized")
		HTTP(func() {
			PUT("/match/{id}/score")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
			Response("not_found", StatusNotFound)
			Response("unauthorized", StatusUnauthorized)
		})
	})

	Method("recent_matches", func() {
		Description("The five most recent matches, newest first")
		Result(ArrayOf(Match))
		HTTP(func() {
			GET("/matches/recent")
			Response(StatusOK)
		})
	})
})

// Health check service
var _ = Service("health", func() {
	Description("Health check endpoints for Kubernetes probes")

	Method("healthz", func() {
		Description("Liveness probe endpoint - indicates if the service is alive")
		Result(Health)
		HTTP(func() {
			GET("/healthz")
			Response(StatusOK)
		})
	})

	Method("readyz", func() {
		Description("Readiness probe endpoint - checks the database and the inference service")
		Result(Health)
		Error("not_ready", Health, "A dependency check failed")
		HTTP(func() {
			GET("/readyz")
			Response(StatusOK)
			Response("not_ready", StatusServiceUnavailable)
		})
	})
})

// System status service
var _ = Service("system", func() {
	Description("Pipeline counters")

	Method("stats", func() {
		Result(Stats)
		HTTP(func() {
			GET("/stats")
			Response(StatusOK)
		})
	})
})

// Authentication service
var _ = Service("auth", func() {
	Method("login", func() {
		Description("Exchange admin credentials for a bearer token")
		Payload(func() {
			Field(1, "username", String)
			Field(2, "password", String)
			Required("username", "password")
		})
		Result(func() {
			Field(1, "token", String)
			Field(2, "expires_at", Int64, "Unix seconds")
			Required("token", "expires_at")
		})
		Error("bad_request")
		Error("unauthorized")
		HTTP(func() {
			POST("/auth/login")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
			Response("unauthorized", StatusUnauthorized)
		})
	})
})
