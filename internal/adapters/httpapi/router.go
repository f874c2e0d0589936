// Package httpapi wires the HTTP surface: session auth, the websocket
// endpoint and static files.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"parley/internal/adapters/ws"
	"parley/internal/auth"
	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/storage"
)

func SetupRouter(ctx context.Context, cfg *config.Config, store storage.DataStore, ctl *ws.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ParleySession", cookieStore))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	authGroup := r.Group("/auth")
	authGroup.POST("/register", registerHandler(store))
	authGroup.POST("/login", loginHandler(store))
	authGroup.POST("/logout", logoutHandler())
	authGroup.GET("/me", meHandler())

	r.GET("/api/ws", func(c *gin.Context) {
		ctl.HandleWS(ctx, c)
	})

	log.Info().Str("module", "httpapi").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func registerHandler(store storage.DataStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		creds.Username = strings.TrimSpace(creds.Username)
		if _, err := domain.NewUser(0, creds.Username); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(creds.Password) < 6 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password too short (min 6 characters)"})
			return
		}

		hash, err := auth.HashPassword(creds.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			return
		}

		user, err := store.CreateUser(c.Request.Context(), creds.Username, hash)
		if errors.Is(err, storage.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "httpapi").Msg("create user failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			return
		}

		startSession(c, user)
		c.JSON(http.StatusCreated, gin.H{"user": user})
	}
}

func loginHandler(store storage.DataStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		user, hash, err := store.UserByName(c.Request.Context(), strings.TrimSpace(creds.Username))
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !auth.ComparePassword(creds.Password, hash)) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "httpapi").Msg("login lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		startSession(c, user)
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		sess.Clear()
		if err := sess.Save(); err != nil {
			log.Warn().Err(err).Str("module", "httpapi").Msg("session clear failed")
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func meHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		uid, _ := sess.Get("user_id").(int64)
		username, _ := sess.Get("username").(string)
		if uid == 0 || username == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": gin.H{"id": uid, "username": username}})
	}
}

func startSession(c *gin.Context, user *domain.User) {
	sess := sessions.Default(c)
	sess.Set("user_id", int64(user.ID))
	sess.Set("username", user.Username)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "httpapi").Msg("session save failed")
	}
}
