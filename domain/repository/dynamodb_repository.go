package repository

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/guregu/dynamo/v2"
	"github.com/sreops-dev/incidentpilot/domain/entity"
)

var incidentsTable = "incidents"

func init() {
	if os.Getenv("DYNAMO_INCIDENTS_TABLE") != "" {
		incidentsTable = os.Getenv("DYNAMO_INCIDENTS_TABLE")
	}
}

func NewDynamoDBRepository() (*DynamoDBRepository, error) {
	var db *dynamo.DB
	if os.Getenv("DYNAMO_LOCAL") != "" {
		cfg, err := config.LoadDefaultConfig(context.TODO(),
			config.WithRegion("dummy"),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "dummy")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
		db = dynamo.New(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String("http://localhost:8000")
		},
		)

		err = setupDdbSchema(db)
		if err != nil {
			return nil, fmt.Errorf("failed to setup schema: %v", err)
		}
	} else {
		cfg, err := config.LoadDefaultConfig(context.TODO())
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
		db = dynamo.New(cfg)
	}

	return &DynamoDBRepository{db: db}, nil
}

func setupDdbSchema(db *dynamo.DB) error {
	t := db.Table(incidentsTable)
	_, err := t.Describe().Run(context.TODO())
	if err != nil {

		input := db.CreateTable(incidentsTable, entity.Incident{}).
			Provision(10, 10)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return input.Run(ctx)
	}
	return nil
}

type DynamoDBRepository struct {
	db *dynamo.DB
}

func (r *DynamoDBRepository) FindIncidentByID(ctx context.Context, id string) (*entity.Incident, error) {
	incident := &entity.Incident{}
	err := r.db.Table(incidentsTable).Get("incident_id", id).One(ctx, incident)
	if err != nil {
		if err == dynamo.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return incident, nil
}

func (r *DynamoDBRepository) SaveIncident(ctx context.Context, incident *entity.Incident) error {
	if err := incident.Validate(); err != nil {
		return err
	}
	incident.LastUpdated = time.Now()
	return r.db.Table(incidentsTable).Put(incident).Run(ctx)
}

// 古い順に返す
func (r *DynamoDBRepository) IncidentsByStatus(ctx context.Context, status entity.Status, limit int) ([]entity.Incident, error) {
	var incidents []entity.Incident
	err := r.db.Table(incidentsTable).Scan().Filter("'status' = ?", string(status)).All(ctx, &incidents)
	if err != nil {
		return nil, err
	}
	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].DetectedAt.Before(incidents[j].DetectedAt)
	})
	if limit > 0 && len(incidents) > limit {
		incidents = incidents[:limit]
	}
	return incidents, nil
}

func (r *DynamoDBRepository) SimilarIncidents(ctx context.Context, incident *entity.Incident, limit int) ([]entity.Incident, error) {
	var incidents []entity.Incident
	err := r.db.Table(incidentsTable).Scan().
		Filter("'service' = ? AND 'status' = ?", incident.Service, string(entity.StatusDocumented)).
		All(ctx, &incidents)
	if err != nil {
		return nil, err
	}
	similar := make([]entity.Incident, 0, len(incidents))
	for _, past := range incidents {
		if past.ID == incident.ID {
			continue
		}
		similar = append(similar, past)
	}
	sort.Slice(similar, func(i, j int) bool {
		return similar[i].DetectedAt.After(similar[j].DetectedAt)
	})
	if limit > 0 && len(similar) > limit {
		similar = similar[:limit]
	}
	return similar, nil
}

func (r *DynamoDBRepository) HighestIncidentID(ctx context.Context) (string, error) {
	var incidents []entity.Incident
	err := r.db.Table(incidentsTable).Scan().Project("incident_id").All(ctx, &incidents)
	if err != nil {
		return "", err
	}
	return highestIncidentID(incidents), nil
}

// IDの桁数は揃わないので数値部分で比較する
func highestIncidentID(incidents []entity.Incident) string {
	highest, highestSeq := "", -1
	for _, incident := range incidents {
		var seq int
		if _, err := fmt.Sscanf(incident.ID, "INC-%d", &seq); err != nil {
			continue
		}
		if seq > highestSeq {
			highest, highestSeq = incident.ID, seq
		}
	}
	return highest
}
