// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// SenderLocalpart is the localpart of the bot user.
const SenderLocalpart = "webhook"

// NewRegistration creates an appservice registration with fresh tokens that
// claims the hook user namespace of domain.
func NewRegistration(id, url, domain string) *appservice.Registration {
	reg := appservice.CreateRegistration()
	reg.ID = id
	reg.URL = url
	reg.SenderLocalpart = SenderLocalpart
	rateLimited := false
	reg.RateLimited = &rateLimited
	reg.Namespaces.UserIDs.Register(regexp.MustCompile(GhostNamespace(domain)), true)
	return reg
}

// LoadRegistration rebuilds the registration of a running gateway from the
// tokens stored in its config.
func LoadRegistration(id, url, domain, asToken, hsToken string) *appservice.Registration {
	reg := NewRegistration(id, url, domain)
	reg.AppToken = asToken
	reg.ServerToken = hsToken
	return reg
}

// AppService is the production Homeserver, backed by a mautrix appservice.
type AppService struct {
	as  *appservice.AppService
	log zerolog.Logger
}

var _ Homeserver = (*AppService)(nil)

type AppServiceOptions struct {
	Registration  *appservice.Registration
	Domain        string
	HomeserverURL string
	Hostname      string
	Port          uint16
}

func NewAppService(opts AppServiceOptions, log zerolog.Logger) (*AppService, error) {
	as, err := appservice.CreateFull(appservice.CreateOpts{
		Registration:     opts.Registration,
		HomeserverDomain: opts.Domain,
		HomeserverURL:    opts.HomeserverURL,
		HostConfig: appservice.HostConfig{
			Hostname: opts.Hostname,
			Port:     opts.Port,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create appservice: %w", err)
	}
	as.Log = log.With().Str("component", "appservice").Logger()
	return &AppService{as: as, log: as.Log}, nil
}

// Run serves the appservice API and feeds homeserver events to handle until
// ctx is done.
func (a *AppService) Run(ctx context.Context, handle func(context.Context, *event.Event)) error {
	if err := a.as.BotIntent().EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("failed to register bot user: %w", err)
	}
	proc := appservice.NewEventProcessor(a.as)
	proc.On(event.EventMessage, handle)
	proc.On(event.StateMember, handle)
	go proc.Start(ctx)
	go a.as.Start()
	a.log.Info().Stringer("bot", a.BotMXID()).Msg("Appservice started")
	<-ctx.Done()
	proc.Stop()
	a.as.Stop()
	return nil
}

func (a *AppService) BotMXID() id.UserID {
	return a.as.BotMXID()
}

func (a *AppService) intent(userID id.UserID) *appservice.IntentAPI {
	if userID == a.BotMXID() {
		return a.as.BotIntent()
	}
	return a.as.Intent(userID)
}

func (a *AppService) EnsureJoined(ctx context.Context, userID id.UserID, roomID id.RoomID) error {
	return a.intent(userID).EnsureJoined(ctx, roomID)
}

func (a *AppService) SendMessage(ctx context.Context, sender id.UserID, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	resp, err := a.intent(sender).SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (a *AppService) SetDisplayName(ctx context.Context, userID id.UserID, name string) error {
	intent := a.intent(userID)
	if err := intent.EnsureRegistered(ctx); err != nil {
		return err
	}
	return intent.SetDisplayName(ctx, name)
}

func (a *AppService) SetAvatarURL(ctx context.Context, userID id.UserID, uri id.ContentURI) error {
	intent := a.intent(userID)
	if err := intent.EnsureRegistered(ctx); err != nil {
		return err
	}
	return intent.SetAvatarURL(ctx, uri)
}

func (a *AppService) UploadMedia(ctx context.Context, data []byte, contentType, filename string) (id.ContentURI, error) {
	resp, err := a.as.BotIntent().UploadBytesWithName(ctx, data, contentType, filename)
	if err != nil {
		return id.ContentURI{}, err
	}
	return resp.ContentURI, nil
}

func (a *AppService) JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error) {
	resp, err := a.as.BotIntent().JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	members := make([]id.UserID, 0, len(resp.Joined))
	for userID := range resp.Joined {
		members = append(members, userID)
	}
	return members, nil
}

func (a *AppService) Invite(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	_, err := a.as.BotIntent().InviteUser(ctx, roomID, &mautrix.ReqInviteUser{UserID: userID})
	return err
}

func (a *AppService) CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	resp, err := a.as.BotIntent().CreateRoom(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (a *AppService) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := a.as.BotIntent().JoinRoomByID(ctx, roomID)
	if errors.Is(err, mautrix.MForbidden) {
		return fmt.Errorf("not allowed to join %s: %w", roomID, err)
	}
	return err
}
