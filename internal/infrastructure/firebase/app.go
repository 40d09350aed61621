package firebase

import (
	"context"
	"os"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

type Credentials struct {
	ProjectID          string
	ServiceAccountJSON string
	ServiceAccountPath string
}

func (c Credentials) clientOptions() ([]option.ClientOption, error) {
	if c.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(c.ServiceAccountJSON))}, nil
	}
	if c.ServiceAccountPath != "" {
		if _, err := os.Stat(c.ServiceAccountPath); os.IsNotExist(err) {
			return nil, errors.BadRequest("Service account file does not exist: "+c.ServiceAccountPath, err)
		}
		logger.Info("Using Firebase service account from file: %s", c.ServiceAccountPath)
		return []option.ClientOption{option.WithCredentialsFile(c.ServiceAccountPath)}, nil
	}
	// application default credentials
	return nil, nil
}

// NewFirestoreClient initialises a Firebase app and returns its Firestore client.
func NewFirestoreClient(ctx context.Context, creds Credentials) (*firestore.Client, error) {
	opts, err := creds.clientOptions()
	if err != nil {
		return nil, err
	}

	app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: creds.ProjectID}, opts...)
	if err != nil {
		return nil, errors.Internal("Failed to initialize Firebase", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, errors.Internal("Failed to create Firestore client", err)
	}
	return client, nil
}
