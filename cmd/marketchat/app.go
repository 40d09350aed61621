package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"cloud.google.com/go/firestore"

	"marketchat/internal/adapter/repository"
	"marketchat/internal/adapter/restapi"
	"marketchat/internal/domain/entity"
	domainrepo "marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/auth"
	"marketchat/internal/infrastructure/broadcast"
	"marketchat/internal/infrastructure/firebase"
	"marketchat/internal/infrastructure/realtime"
	"marketchat/internal/usecase"
	"marketchat/pkg/config"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// app is everything a command needs to run sessions for one viewer.
type app struct {
	cfg    *config.Config
	viewer entity.Viewer
	token  string
	api    *restapi.Client
	state  domainrepo.ViewerStateRepository
	bus    *broadcast.Bus

	firestoreClient *firestore.Client
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "marketchat-state.json"
	}
	return filepath.Join(dir, "marketchat", "state.json")
}

// newApp resolves the viewer and wires the REST client and local state.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, bus: broadcast.NewBus()}

	// file and memory state can be read before the viewer is known
	var store domainrepo.KVStore
	switch cfg.StateBackend {
	case config.StateBackendFile:
		s, err := repository.NewFileKVStore(cfg.StateFile)
		if err != nil {
			return nil, err
		}
		store = s
	case config.StateBackendMemory:
		store = repository.NewMemoryKVStore()
	}

	token, userData := cfg.AuthToken, cfg.UserData
	if store != nil {
		state := repository.NewViewerStateRepository(store)
		if token == "" {
			token, _ = state.AuthToken(ctx)
		}
		if userData == "" {
			userData, _ = state.UserData(ctx)
		}
		a.state = state
	}

	viewer, err := auth.ResolveViewer(token, userData, cfg.ViewerRole)
	if err != nil {
		return nil, err
	}
	a.viewer = viewer
	a.token = token

	if cfg.StateBackend == config.StateBackendFirestore {
		client, err := firebase.NewFirestoreClient(ctx, firebase.Credentials{
			ProjectID:          cfg.FirebaseProject,
			ServiceAccountJSON: cfg.FirebaseServiceAccountJSON,
			ServiceAccountPath: cfg.FirebaseServiceAccountPath,
		})
		if err != nil {
			return nil, err
		}
		a.firestoreClient = client
		a.state = repository.NewViewerStateRepository(repository.NewFirestoreKVStore(client, viewer.ID))
	}
	if a.state == nil {
		return nil, errors.BadRequest("Unknown state backend: "+cfg.StateBackend, nil)
	}

	a.api = restapi.NewClient(cfg.APIBaseURL, token, cfg.RequestTimeout)
	logger.Info("Signed in as %s (%s)", viewer.ID, viewer.Role)
	return a, nil
}

func (a *app) Close() {
	if a.firestoreClient != nil {
		a.firestoreClient.Close()
	}
}

// newConn builds a fresh connection; every session owns its own.
func (a *app) newConn() *realtime.Manager {
	opts := realtime.Options{URL: a.cfg.SocketURL, Header: http.Header{}}
	if a.token != "" {
		opts.Header.Set("Authorization", "Bearer "+a.token)
		opts.Auth = map[string]string{"token": a.token}
	}
	return realtime.NewManager(opts)
}

func (a *app) newConversations(conn *realtime.Manager, notifier usecase.Notifier) *usecase.ConversationUseCase {
	return usecase.NewConversationUseCase(a.api, conn, a.state, a.bus, notifier, a.viewer, usecase.ConversationOptions{
		PollInterval:    a.cfg.PollIntervalFor(a.viewer.IsMonitor()),
		RefetchDebounce: a.cfg.RefetchDebounce,
	})
}

func (a *app) newChatWindow(notifier usecase.Notifier) *usecase.ChatWindowUseCase {
	return usecase.NewChatWindowUseCase(a.api, a.newConn(), notifier, a.viewer, usecase.ChatWindowOptions{
		JoinRetryDelay:   a.cfg.JoinRetryDelay,
		MarkIncomingRead: true,
	})
}
