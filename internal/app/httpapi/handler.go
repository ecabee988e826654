// Package httpapi exposes the application services over REST and websocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	app "github.com/jive-live/jive-server/internal/app"
	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/internal/app/metrics"
	"github.com/jive-live/jive-server/internal/app/storage"
	"github.com/jive-live/jive-server/internal/middleware"
	"github.com/jive-live/jive-server/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	validate *validator.Validate
	log      *logger.Logger
}

// NewHandler returns a router exposing the REST API under /api, the chat
// websocket under /ws/chat, and the health and metrics endpoints.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		app:      application,
		validate: validator.New(),
		log:      log,
	}
	auth := middleware.NewAuthMiddleware(application.Accounts, log)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/register", h.register).Methods(http.MethodPost)
	api.Handle("/user", auth.Handler(http.HandlerFunc(h.currentUser))).Methods(http.MethodGet)
	api.Handle("/user/update/{userId}", auth.Handler(http.HandlerFunc(h.updateUser))).Methods(http.MethodPut)
	api.HandleFunc("/user/exists", h.userExists).Methods(http.MethodPost)
	api.HandleFunc("/userAccount/{username}", h.userAccount).Methods(http.MethodGet)
	api.HandleFunc("/userProfile/{username}", h.userProfile).Methods(http.MethodGet)
	api.HandleFunc("/userByEmail/{email}", h.userByEmail).Methods(http.MethodGet)
	api.Handle("/uploadImage", auth.Handler(http.HandlerFunc(h.uploadImage))).Methods(http.MethodPost)

	api.Handle("/follow/{userId}", auth.Handler(http.HandlerFunc(h.follow))).Methods(http.MethodPost)
	api.Handle("/unfollow/{userId}", auth.Handler(http.HandlerFunc(h.unfollow))).Methods(http.MethodPut)
	api.Handle("/follows/{userId}/{followsId}", auth.Handler(http.HandlerFunc(h.follows))).Methods(http.MethodGet)
	api.Handle("/followers/{userId}", auth.Handler(http.HandlerFunc(h.followers))).Methods(http.MethodGet)
	api.Handle("/following/{userId}", auth.Handler(http.HandlerFunc(h.following))).Methods(http.MethodGet)

	api.HandleFunc("/liveStream/started", h.streamStarted).Methods(http.MethodPost)
	api.HandleFunc("/liveStream/stopped", h.streamStopped).Methods(http.MethodPost)
	api.HandleFunc("/liveStream/increaseTotalViews/{userId}", h.increaseTotalViews).Methods(http.MethodPut)
	api.HandleFunc("/liveStream/currentViewerCount/{userId}", h.viewerCount).Methods(http.MethodGet)
	api.HandleFunc("/liveStream/{userId}", h.liveStream).Methods(http.MethodGet)
	api.HandleFunc("/saveArchivedStream", h.saveArchivedStream).Methods(http.MethodPost)
	api.HandleFunc("/archivedStream/{username}/{streamId}", h.archivedStream).Methods(http.MethodGet)
	api.HandleFunc("/archivedStreams/delete/{userId}/{streamId}", h.deleteArchivedStream).Methods(http.MethodPut)
	api.HandleFunc("/archivedStreams/update", h.updateArchivedStream).Methods(http.MethodPut)
	api.HandleFunc("/archivedStreams/{username}", h.archivedStreams).Methods(http.MethodGet)
	api.HandleFunc("/feed", h.feed).Methods(http.MethodGet)
	api.HandleFunc("/featuredStreams", h.featuredStreams).Methods(http.MethodGet)
	api.HandleFunc("/search/{searchText}", h.search).Methods(http.MethodGet)
	api.HandleFunc("/randomStream", h.randomStream).Methods(http.MethodGet)
	api.Handle("/streamInfo/update", auth.Handler(http.HandlerFunc(h.updateStreamInfo))).Methods(http.MethodPut)
	api.HandleFunc("/streamInfo/{userId}", h.streamInfo).Methods(http.MethodGet)
	api.Handle("/streamKey/{userId}", auth.Handler(http.HandlerFunc(h.streamKey))).Methods(http.MethodGet)
	api.HandleFunc("/reportStream/{userId}/{timestamp}/{reason}", h.reportStream).Methods(http.MethodPost)
	api.HandleFunc("/notification_subscription/{userId}", h.notificationSubscription).Methods(http.MethodPost)

	api.HandleFunc("/saveChat/{userId}/{sentTo}", h.saveChat).Methods(http.MethodPost)
	api.HandleFunc("/getRecentChat/{sentTo}", h.recentChat).Methods(http.MethodGet)
	api.HandleFunc("/incrementChat/{userId}/{chatId}/{sentTo}", h.incrementChat).Methods(http.MethodPut)
	api.HandleFunc("/decrementChat/{userId}/{chatId}/{sentTo}", h.decrementChat).Methods(http.MethodPut)

	api.Handle("/stripe/setup", auth.Handler(http.HandlerFunc(h.stripeSetup))).Methods(http.MethodGet)
	api.Handle("/stripe/setupStandard", auth.Handler(http.HandlerFunc(h.stripeSetupStandard))).Methods(http.MethodGet)
	api.HandleFunc("/stripe/token", h.stripeToken).Methods(http.MethodGet)
	api.Handle("/stripe/transfers", auth.Handler(http.HandlerFunc(h.stripeTransfers))).Methods(http.MethodGet)
	api.HandleFunc("/stripe/pay", h.stripePay).Methods(http.MethodPost)
	api.HandleFunc("/saveTransaction", h.saveTransaction).Methods(http.MethodPost)
	api.HandleFunc("/userTransactions/{userId}", h.userTransactions).Methods(http.MethodGet)

	api.HandleFunc("/forgot", h.forgotPassword).Methods(http.MethodPost)
	api.HandleFunc("/reset/{token}", h.resetPassword).Methods(http.MethodPost)
	api.Handle("/updatePassword/{userId}", auth.Handler(http.HandlerFunc(h.updatePassword))).Methods(http.MethodPut)

	r.HandleFunc("/ws/chat/{channelId}", h.chatSocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Accounts ---------------------------------------------------------------

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}

	acct, prof, token, err := h.app.Accounts.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userAccount": acct,
		"userProfile": prof,
		"token":       token,
	})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username" validate:"required"`
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=6"`
		Name     string `json:"name"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}

	acct, prof, token, err := h.app.Accounts.Register(r.Context(), payload.Username, payload.Email, payload.Password, payload.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"userAccount": acct,
		"userProfile": prof,
		"token":       token,
	})
}

func (h *handler) currentUser(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	acct, err := h.app.Accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	prof, err := h.app.Accounts.GetProfile(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userAccount": acct,
		"userProfile": prof,
	})
}

func (h *handler) updateUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := requireSelf(r, userID); err != nil {
		h.writeError(w, err)
		return
	}

	var payload struct {
		UserAccount struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		} `json:"userAccount"`
		UserProfile struct {
			Name    string `json:"name"`
			Picture string `json:"profile_picture"`
		} `json:"userProfile"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, apperr.Invalid("body", err.Error()))
		return
	}

	acct, prof, err := h.app.Accounts.Update(r.Context(), userID,
		payload.UserAccount.Username, payload.UserAccount.Email,
		payload.UserProfile.Name, payload.UserProfile.Picture)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userAccount": acct,
		"userProfile": prof,
	})
}

func (h *handler) userExists(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username" validate:"required"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	exists, err := h.app.Accounts.Exists(r.Context(), payload.Username)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"result": exists})
}

func (h *handler) userAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Accounts.GetAccountByUsername(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"userAccount": acct})
}

func (h *handler) userProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.app.Accounts.GetProfileByUsername(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"userProfile": prof})
}

// userByEmail reports a null account and profile rather than a 404 when the
// email is unknown, so signup forms can probe without error handling.
func (h *handler) userByEmail(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Accounts.GetAccountByEmail(r.Context(), mux.Vars(r)["email"])
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"userAccount": nil,
			"userProfile": nil,
		})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	prof, err := h.app.Accounts.GetProfile(r.Context(), acct.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userAccount": acct,
		"userProfile": prof,
	})
}

func (h *handler) notificationSubscription(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var payload struct {
		Subscription json.RawMessage `json:"notification_subscription"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, apperr.Invalid("body", err.Error()))
		return
	}
	if err := h.app.Accounts.SetPushSubscription(r.Context(), userID, string(payload.Subscription)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

// --- Passwords --------------------------------------------------------------

func (h *handler) updatePassword(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := requireSelf(r, userID); err != nil {
		h.writeError(w, err)
		return
	}
	var payload struct {
		OldPassword string `json:"oldPassword" validate:"required"`
		NewPassword string `json:"newPassword" validate:"required,min=6"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.app.Accounts.ChangePassword(r.Context(), userID, payload.OldPassword, payload.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email" validate:"required,email"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.app.Accounts.ForgotPassword(r.Context(), payload.Email); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "email sent"})
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	var payload struct {
		Password        string `json:"password" validate:"required,min=6"`
		ConfirmPassword string `json:"confirmPassword" validate:"required"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if payload.Password != payload.ConfirmPassword {
		h.writeError(w, apperr.Invalid("confirmPassword", "does not match new password"))
		return
	}
	if err := h.app.Accounts.ResetPassword(r.Context(), token, payload.Password); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

// --- Social -----------------------------------------------------------------

func (h *handler) follow(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := requireSelf(r, userID); err != nil {
		h.writeError(w, err)
		return
	}
	var payload struct {
		FollowsID string `json:"followsId" validate:"required"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.app.Social.Follow(r.Context(), userID, payload.FollowsID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Now following user."})
}

func (h *handler) unfollow(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := requireSelf(r, userID); err != nil {
		h.writeError(w, err)
		return
	}
	var payload struct {
		FollowsID string `json:"followsId" validate:"required"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.app.Social.Unfollow(r.Context(), userID, payload.FollowsID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Unfollowed user."})
}

func (h *handler) follows(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	following, err := h.app.Social.IsFollowing(r.Context(), vars["userId"], vars["followsId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"result": following})
}

func (h *handler) followers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.app.Social.Followers(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": profiles})
}

func (h *handler) following(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.app.Social.Following(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": profiles})
}

// --- Streams ----------------------------------------------------------------

func (h *handler) streamStarted(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Key string `json:"key" validate:"required"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := h.app.Streams.StartStream(r.Context(), payload.Key); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Live stream added."})
}

func (h *handler) streamStopped(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Key string `json:"key" validate:"required"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.app.Streams.StopStream(r.Context(), payload.Key); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Live stream stopped."})
}

// liveStream reports a null stream rather than a 404 so viewers can poll a
// profile page without error handling.
func (h *handler) liveStream(w http.ResponseWriter, r *http.Request) {
	ls, err := h.app.Streams.GetLiveStream(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liveStream": ls})
}

func (h *handler) saveArchivedStream(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		StreamName string `json:"streamName" validate:"required"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := h.app.Streams.ArchiveStream(r.Context(), payload.StreamName); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Live stream saved."})
}

func (h *handler) archivedStream(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	arch, err := h.app.Streams.GetArchivedStream(r.Context(), vars["username"], vars["streamId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"archivedStream": arch})
}

func (h *handler) archivedStreams(w http.ResponseWriter, r *http.Request) {
	archives, err := h.app.Streams.ListArchivedStreams(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"archivedStreams": archives})
}

func (h *handler) deleteArchivedStream(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.app.Streams.DeleteArchivedStream(r.Context(), vars["userId"], vars["streamId"]); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Stream deleted."})
}

func (h *handler) updateArchivedStream(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ArchivedStream struct {
			AccountID   string   `json:"user_id" validate:"required"`
			StreamID    string   `json:"stream_id" validate:"required"`
			Title       string   `json:"stream_title"`
			Description string   `json:"stream_description"`
			Tags        []string `json:"tags"`
		} `json:"archivedStream"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, apperr.Invalid("body", err.Error()))
		return
	}
	if err := h.validate.Struct(payload.ArchivedStream); err != nil {
		h.writeError(w, validationError(err))
		return
	}
	arch := payload.ArchivedStream
	if _, err := h.app.Streams.UpdateArchivedStream(r.Context(), arch.AccountID, arch.StreamID, arch.Title, arch.Description, arch.Tags); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Stream updated."})
}

func (h *handler) feed(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Streams.Feed(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liveStreams": entries})
}

func (h *handler) featuredStreams(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Streams.Featured(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"allStreams": entries})
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	results, err := h.app.Streams.Search(r.Context(), mux.Vars(r)["searchText"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles":    results.Profiles,
		"liveStreams": results.Streams,
	})
}

func (h *handler) randomStream(w http.ResponseWriter, r *http.Request) {
	ls, err := h.app.Streams.RandomStream(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if ls == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"userProfile": nil})
		return
	}
	prof, err := h.app.Accounts.GetProfile(r.Context(), ls.AccountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"userProfile": prof})
}

func (h *handler) streamInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.app.Streams.GetStreamInfo(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"streamInfo": info})
}

func (h *handler) updateStreamInfo(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	var payload struct {
		StreamInfo struct {
			Title       string   `json:"stream_title"`
			Description string   `json:"stream_description"`
			Tags        []string `json:"tags"`
		} `json:"streamInfo"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, apperr.Invalid("body", err.Error()))
		return
	}
	info := payload.StreamInfo
	if _, err := h.app.Streams.UpdateStreamInfo(r.Context(), accountID, info.Title, info.Description, info.Tags); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Stream information updated."})
}

func (h *handler) increaseTotalViews(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Streams.IncrementViews(r.Context(), mux.Vars(r)["userId"]); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Total view count updated."})
}

func (h *handler) streamKey(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := requireSelf(r, userID); err != nil {
		h.writeError(w, err)
		return
	}
	key, err := h.app.Streams.StreamKey(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"streamKey": key})
}

func (h *handler) viewerCount(w http.ResponseWriter, r *http.Request) {
	count, isLive, err := h.app.Streams.ViewerCount(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": count,
		"isLive": isLive,
	})
}

func (h *handler) reportStream(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.app.Notifications.ReportStream(r.Context(), vars["userId"], vars["timestamp"], vars["reason"])
	writeJSON(w, http.StatusOK, map[string]string{"result": "Stream has been reported."})
}

// --- Chat -------------------------------------------------------------------

func (h *handler) saveChat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var payload struct {
		ChatMessage string `json:"chatMessage" validate:"required"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	msg, err := h.app.Chat.Save(r.Context(), vars["userId"], vars["sentTo"], payload.ChatMessage)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"chatId": msg.ID})
}

func (h *handler) recentChat(w http.ResponseWriter, r *http.Request) {
	messages, err := h.app.Chat.Recent(r.Context(), mux.Vars(r)["sentTo"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chatMessages": messages})
}

func (h *handler) incrementChat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.app.Chat.Upvote(r.Context(), vars["userId"], vars["chatId"], vars["sentTo"]); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (h *handler) decrementChat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.app.Chat.Downvote(r.Context(), vars["userId"], vars["chatId"], vars["sentTo"]); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

// --- Payments ---------------------------------------------------------------

func (h *handler) stripeSetup(w http.ResponseWriter, r *http.Request) {
	h.stripeSetupURL(w, r, true)
}

func (h *handler) stripeSetupStandard(w http.ResponseWriter, r *http.Request) {
	h.stripeSetupURL(w, r, false)
}

func (h *handler) stripeSetupURL(w http.ResponseWriter, r *http.Request, express bool) {
	url, err := h.app.Payments.SetupURL(r.Context(), middleware.GetAccountID(r.Context()), express)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect": url})
}

// stripeToken completes the Connect onboarding flow. The state query value is
// the account id issued by stripeSetup.
func (h *handler) stripeToken(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		h.writeError(w, apperr.Invalid("code", "code and state are required"))
		return
	}
	if err := h.app.Payments.ExchangeCode(r.Context(), state, code); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (h *handler) stripeTransfers(w http.ResponseWriter, r *http.Request) {
	url, err := h.app.Payments.LoginLink(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect": url})
}

func (h *handler) stripePay(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FromUserID string `json:"donaterId" validate:"required"`
		ToUsername string `json:"receiverUsername" validate:"required"`
		Amount     int64  `json:"amount" validate:"required,gt=0"`
		Currency   string `json:"currency"`
		Source     string `json:"source" validate:"required"`
		Express    bool   `json:"express"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	tx, err := h.app.Payments.Pay(r.Context(), payload.FromUserID, payload.ToUsername, payload.Amount, payload.Currency, payload.Source, payload.Express)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":      "Payment success.",
		"transaction": tx,
	})
}

func (h *handler) saveTransaction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FromUserID string `json:"donaterId" validate:"required"`
		ToUserID   string `json:"receiverId" validate:"required"`
		Currency   string `json:"currency" validate:"required"`
		Amount     int64  `json:"amount" validate:"required,gt=0"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := h.app.Payments.SaveTransaction(r.Context(), payload.FromUserID, payload.ToUserID, payload.Currency, payload.Amount); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Transaction inserted."})
}

func (h *handler) userTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.app.Payments.ListTransactions(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"userTransactions": transactions})
}

// --- Uploads ----------------------------------------------------------------

func (h *handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	if h.app.Uploads == nil {
		h.writeError(w, apperr.Invalid("upload", "uploads are not configured"))
		return
	}
	var payload struct {
		ImgType  string `json:"imgType" validate:"required"`
		Filename string `json:"filename" validate:"required"`
	}
	if err := h.decodeValid(r.Body, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	url, key, err := h.app.Uploads.ImageUploadURL(r.Context(), payload.ImgType, payload.Filename)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"signedUrl": url,
		"path":      key,
	})
}

// --- Helpers ----------------------------------------------------------------

// requireSelf rejects requests whose path user id does not match the
// authenticated account.
func requireSelf(r *http.Request, userID string) error {
	if middleware.GetAccountID(r.Context()) != userID {
		return apperr.Unauthorized("userId", "token does not match user")
	}
	return nil
}

func (h *handler) decodeValid(body io.ReadCloser, dst interface{}) error {
	if err := decodeJSON(body, dst); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			return apperr.Invalid(field, "is required")
		case "email":
			return apperr.Invalid(field, "is not a valid email")
		case "min":
			return apperr.Invalid(field, "must be at least "+fe.Param()+" characters long")
		default:
			return apperr.Invalid(field, "is invalid")
		}
	}
	return apperr.Invalid("body", err.Error())
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders the field-keyed errors envelope with a status code
// derived from the error's classification.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	}

	field := "message"
	message := err.Error()
	var fe *apperr.FieldError
	if errors.As(err, &fe) {
		field, message = fe.Field, fe.Message
	} else if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
		message = "something went wrong, please try again"
	}

	writeJSON(w, status, map[string]map[string][]string{
		"errors": {field: {message}},
	})
}
