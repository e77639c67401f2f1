package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"storm-arena/internal/config"
	"storm-arena/internal/middleware"
	"storm-arena/internal/model"
	"storm-arena/internal/service"
	bgSvc "storm-arena/internal/service/battleground"
	matchSvc "storm-arena/internal/service/match"
	queueSvc "storm-arena/internal/service/queue"
	"storm-arena/internal/service/replay"
	usersvc "storm-arena/internal/service/user"
	"storm-arena/internal/ws"
	appErr "storm-arena/pkg/errors"
	"storm-arena/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Handler struct {
	services *service.Container
	scorer   *replay.Scorer
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{
		services: services,
		scorer:   replay.NewScorer(),
	}
	wsHandler := ws.NewHandler(services.Queue)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/arena/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/code/request", handler.RequestLoginCode)
			authGroup.POST("/code/login", handler.Login)
		}

		userGroup := v1.Group("/user")
		userGroup.Use(middleware.AuthRequired())
		{
			userGroup.GET("/profile", handler.GetProfile)
			userGroup.PUT("/profile", handler.UpdateProfile)
			userGroup.GET("/rating", handler.GetRating)
		}

		queueGroup := v1.Group("/queue")
		queueGroup.Use(middleware.AuthRequired())
		{
			queueGroup.POST("/join", handler.QueueJoin)
			queueGroup.POST("/leave", handler.QueueLeave)
			queueGroup.GET("/status", handler.QueueStatus)
		}

		v1.GET("/matches", handler.ListMatches)
		v1.GET("/matches/:id", handler.GetMatch)
		v1.POST("/matches/:id/replay", middleware.AuthRequired(), handler.SubmitReplay)

		v1.GET("/leaderboard", handler.Leaderboard)
		v1.GET("/battlegrounds", handler.ListBattlegrounds)
	}

	adminGroup := r.Group("/admin")
	{
		adminGroup.POST("/auth/login", handler.AdminLogin)

		protected := adminGroup.Group("/")
		protected.Use(middleware.AdminAuthRequired())
		{
			protected.GET("/matches", handler.ListMatches)
			protected.POST("/matches/:id/cancel", handler.AdminCancelMatch)
			protected.POST("/matches/:id/invalidate", handler.AdminInvalidateMatch)

			protected.GET("/battlegrounds", handler.ListBattlegrounds)
			protected.POST("/battlegrounds", handler.AdminCreateBattleground)
			protected.PUT("/battlegrounds/:id", handler.AdminUpdateBattleground)

			protected.GET("/users", handler.AdminListUsers)
			protected.GET("/users/:id", handler.AdminGetUser)
			protected.PUT("/users/:id/ban", handler.AdminBanUser)
		}
	}

	r.GET("/ws/queue", wsHandler.HandleQueueWS)
}

type codeRequestBody struct {
	Battletag string `json:"battletag" binding:"required"`
}

type codeLoginBody struct {
	Battletag string `json:"battletag" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

type updateProfileBody struct {
	DisplayName *string `json:"displayName"`
	Avatar      *string `json:"avatar"`
}

type queueJoinBody struct {
	PreferredRoles []string `json:"preferredRoles"`
}

type replaySubmitBody struct {
	Replay       replay.ParsedReplay `json:"replay" binding:"required"`
	IsSimulation bool                `json:"isSimulation"`
}

type adminLoginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type adminUserBanBody struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

type matchMutationBody struct {
	Reason string `json:"reason"`
}

type battlegroundBody struct {
	Name    string   `json:"name" binding:"required"`
	Aliases []string `json:"aliases"`
	Status  string   `json:"status" binding:"omitempty,oneof=enabled disabled"`
}

func (b battlegroundBody) toParams() bgSvc.MutationParams {
	status := strings.ToLower(strings.TrimSpace(b.Status))
	if status == "" {
		status = "enabled"
	}
	return bgSvc.MutationParams{
		Name:    strings.TrimSpace(b.Name),
		Aliases: b.Aliases,
		Status:  status,
	}
}

func (h *Handler) RequestLoginCode(c *gin.Context) {
	var body codeRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.services.Auth.RequestLoginCode(c.Request.Context(), body.Battletag); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrInvalidBattletag) {
			status = http.StatusBadRequest
		}
		response.Error(c, status, err.Error())
		return
	}
	response.SuccessWithMsg(c, gin.H{}, "code sent")
}

func (h *Handler) Login(c *gin.Context) {
	var body codeLoginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.services.Auth.Login(c.Request.Context(), body.Battletag, body.Code)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrInvalidBattletag), errors.Is(err, appErr.ErrInvalidLoginCode):
			status = http.StatusBadRequest
		case errors.Is(err, appErr.ErrLoginCodeExpired):
			status = http.StatusGone
		case errors.Is(err, appErr.ErrUserBanned):
			status = http.StatusForbidden
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, resp)
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var body adminLoginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.services.Admin.Login(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrAdminNotFound), errors.Is(err, appErr.ErrInvalidAdminPassword):
			status = http.StatusUnauthorized
		case errors.Is(err, appErr.ErrAdminDisabled):
			status = http.StatusForbidden
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, resp)
}

func (h *Handler) GetProfile(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	profile, err := h.services.User.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, profile)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body updateProfileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.services.User.UpdateProfile(c.Request.Context(), userID, usersvc.UpdateProfileRequest{
		DisplayName: body.DisplayName,
		Avatar:      body.Avatar,
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, updated)
}

func (h *Handler) GetRating(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	rating, err := h.services.Rating.Get(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, rating)
}

func (h *Handler) QueueJoin(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	// The body is optional, preferred roles are a hint only.
	var body queueJoinBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.Error(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	profile, err := h.services.User.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	if profile.Status == "banned" {
		response.Error(c, http.StatusForbidden, appErr.ErrUserBanned.Error())
		return
	}

	rating, err := h.services.Rating.Get(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := h.services.Queue.Join(c.Request.Context(), queueSvc.JoinRequest{
		UserID:         userID,
		DisplayName:    profile.Battletag,
		RatingSnapshot: rating.Rating,
		PreferredRoles: body.PreferredRoles,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, result)
}

func (h *Handler) QueueLeave(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.services.Queue.Leave(c.Request.Context(), userID)
	response.SuccessWithMsg(c, gin.H{"status": "left"}, "")
}

func (h *Handler) QueueStatus(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	status, err := h.services.Queue.Status(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, status)
}

func (h *Handler) ListMatches(c *gin.Context) {
	page, err := parsePositiveIntQuery(c, "page", 1)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	size, err := parsePositiveIntQuery(c, "size", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	switch status {
	case "", model.MatchStatusWaiting, model.MatchStatusInProgress,
		model.MatchStatusCompleted, model.MatchStatusCancelled, model.MatchStatusInvalid:
	default:
		response.Error(c, http.StatusBadRequest, "invalid status filter")
		return
	}

	result, err := h.services.Match.List(c.Request.Context(), matchSvc.ListFilter{
		Page:   page,
		Size:   size,
		Status: status,
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.Success(c, gin.H{
		"items": result.Items,
		"total": result.Total,
		"page":  page,
		"size":  size,
	})
}

func (h *Handler) GetMatch(c *gin.Context) {
	matchID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid match id")
		return
	}

	m, err := h.services.Match.Get(c.Request.Context(), matchID)
	if err != nil {
		h.handleMatchError(c, err)
		return
	}

	participants, err := h.services.Match.Participants(c.Request.Context(), matchID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.Success(c, gin.H{
		"match":        m,
		"participants": participants,
	})
}

// SubmitReplay completes a match from a parsed replay. The replay is
// scored against the roster recorded at formation time first; an error
// verdict rejects the submission without touching the match.
func (h *Handler) SubmitReplay(c *gin.Context) {
	matchID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid match id")
		return
	}

	var body replaySubmitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	if body.IsSimulation && !config.GlobalConfig.Features.AllowSimulatedCompletions {
		response.Error(c, http.StatusForbidden, "simulated completions are disabled")
		return
	}

	m, err := h.services.Match.Get(c.Request.Context(), matchID)
	if err != nil {
		h.handleMatchError(c, err)
		return
	}

	observed := replay.Roster{
		Blue: playerNames(body.Replay.Teams.Blue),
		Red:  playerNames(body.Replay.Teams.Red),
	}
	observedMap := h.services.Battleground.Canonicalize(c.Request.Context(), body.Replay.MapName)

	report := h.scorer.ScoreConsistency(
		h.services.Match.ExpectedRoster(m),
		observed,
		m.MapName,
		observedMap,
	)
	if report.Verdict == replay.VerdictError && !body.IsSimulation {
		response.JSON(c, http.StatusUnprocessableEntity, gin.H{
			"report": report,
		}, appErr.ErrReplayRejected.Error())
		return
	}

	result, err := h.services.Match.Complete(c.Request.Context(), matchSvc.CompleteRequest{
		MatchID:             matchID,
		Winner:              strings.ToLower(strings.TrimSpace(body.Replay.Winner)),
		GameDurationSeconds: body.Replay.DurationSeconds,
		Stats:               replayStats(body.Replay),
		IsSimulation:        body.IsSimulation,
	})
	if err != nil {
		h.handleMatchError(c, err)
		return
	}

	response.Success(c, gin.H{
		"report": report,
		"result": result,
	})
}

func (h *Handler) Leaderboard(c *gin.Context) {
	page, err := parsePositiveIntQuery(c, "page", 1)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	size, err := parsePositiveIntQuery(c, "size", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.Rating.Leaderboard(c.Request.Context(), page, size)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.Success(c, gin.H{
		"items": result.Items,
		"total": result.Total,
		"page":  page,
		"size":  size,
	})
}

func (h *Handler) ListBattlegrounds(c *gin.Context) {
	items, err := h.services.Battleground.List(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, gin.H{"battlegrounds": items})
}

func (h *Handler) AdminCancelMatch(c *gin.Context) {
	matchID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid match id")
		return
	}

	var body matchMutationBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.Error(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.services.Match.Cancel(c.Request.Context(), matchID, body.Reason); err != nil {
		h.handleMatchError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{"status": model.MatchStatusCancelled}, "")
}

func (h *Handler) AdminInvalidateMatch(c *gin.Context) {
	matchID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid match id")
		return
	}

	var body matchMutationBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.Error(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.services.Match.Invalidate(c.Request.Context(), matchID, body.Reason); err != nil {
		h.handleMatchError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{"status": model.MatchStatusInvalid}, "")
}

func (h *Handler) AdminCreateBattleground(c *gin.Context) {
	var body battlegroundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	bg, err := h.services.Battleground.Create(c.Request.Context(), body.toParams())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			status = http.StatusConflict
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, gin.H{"id": bg.ID})
}

func (h *Handler) AdminUpdateBattleground(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid battleground id")
		return
	}

	var body battlegroundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	bg, err := h.services.Battleground.Update(c.Request.Context(), id, body.toParams())
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrBattlegroundNotFound):
			status = http.StatusNotFound
		case errors.Is(err, gorm.ErrDuplicatedKey):
			status = http.StatusConflict
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, bg)
}

func (h *Handler) AdminListUsers(c *gin.Context) {
	page, err := parsePositiveIntQuery(c, "page", 1)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	size, err := parsePositiveIntQuery(c, "size", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	if status != "" && status != "normal" && status != "banned" {
		response.Error(c, http.StatusBadRequest, "invalid status filter")
		return
	}

	result, err := h.services.User.AdminListUsers(c.Request.Context(), usersvc.AdminListUsersFilter{
		Page:             page,
		Size:             size,
		Status:           status,
		BattletagKeyword: strings.TrimSpace(c.Query("battletag")),
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.Success(c, gin.H{
		"items": result.Items,
		"total": result.Total,
		"page":  page,
		"size":  size,
	})
}

func (h *Handler) AdminGetUser(c *gin.Context) {
	userID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.services.User.AdminGetUser(c.Request.Context(), userID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, gin.H{"user": user})
}

func (h *Handler) AdminBanUser(c *gin.Context) {
	userID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id")
		return
	}

	var body adminUserBanBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	status := strings.ToLower(strings.TrimSpace(body.Status))
	if status != "normal" && status != "banned" {
		response.Error(c, http.StatusBadRequest, "status must be 'normal' or 'banned'")
		return
	}

	updated, err := h.services.User.AdminUpdateUserStatus(c.Request.Context(), userID, status, body.Reason)
	if err != nil {
		statusCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrUserNotFound):
			statusCode = http.StatusNotFound
		case errors.Is(err, appErr.ErrInvalidUserStatus):
			statusCode = http.StatusBadRequest
		}
		response.Error(c, statusCode, err.Error())
		return
	}

	// A banned player is also removed from any queue entry they hold.
	if status == "banned" {
		h.services.Queue.Leave(c.Request.Context(), userID)
	}

	response.Success(c, gin.H{"user": updated})
}

func (h *Handler) handleMatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appErr.ErrMatchNotFound):
		response.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, appErr.ErrValidation):
		response.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, appErr.ErrMatchTerminal), errors.Is(err, appErr.ErrMatchNotCompleted):
		response.Error(c, http.StatusConflict, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, err.Error())
	}
}

func playerNames(players []replay.ParsedPlayer) []string {
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Name)
	}
	return names
}

func replayStats(parsed replay.ParsedReplay) []matchSvc.PlayerStat {
	stats := make([]matchSvc.PlayerStat, 0, len(parsed.Teams.Blue)+len(parsed.Teams.Red))
	for _, p := range parsed.Teams.Blue {
		stats = append(stats, matchSvc.PlayerStat{
			DisplayName: p.Name,
			Team:        model.TeamBlue,
			Hero:        p.Hero,
			RawStats:    p.RawStats,
		})
	}
	for _, p := range parsed.Teams.Red {
		stats = append(stats, matchSvc.PlayerStat{
			DisplayName: p.Name,
			Team:        model.TeamRed,
			Hero:        p.Hero,
			RawStats:    p.RawStats,
		})
	}
	return stats
}

func parseIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func parsePositiveIntQuery(c *gin.Context, key string, defaultVal int) (int, error) {
	val := c.Query(key)
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return parsed, nil
}

func getUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(middleware.ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
