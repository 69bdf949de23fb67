package dbutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/VectorBits/crossleak/src/internal/report"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

// ContractRecord caches explorer metadata of an analysed contract.
type ContractRecord struct {
	Address         string `gorm:"primaryKey;size:42"`
	Network         string `gorm:"size:16;index"`
	Name            string
	Language        string `gorm:"size:16"`
	CompilerVersion string `gorm:"size:64"`
	HasSource       bool
	IsProxy         bool
	Implementation  string `gorm:"size:42"`
	ABI             string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ContractRecord) TableName() string { return "crossleak_contracts" }

// FindingRecord mirrors one line of a findings log.
type FindingRecord struct {
	ID               uint   `gorm:"primaryKey"`
	Victim           string `gorm:"size:42;index"`
	VictimTxHash     string `gorm:"size:66"`
	VictimFunction   string
	Kind             string `gorm:"size:16;index"`
	Dapp             string
	TargetContract   string `gorm:"size:42;index"`
	TargetFunction   string
	TargetTxHash     string `gorm:"size:66"`
	RelatedSignature string `gorm:"size:10"`
	RelatedName      string
	Input            string `gorm:"type:text"`
	Value            string
	Arguments        string `gorm:"type:text"`
	OracleArgs       string `gorm:"type:text"`
	FoundAt          time.Time `gorm:"index"`
	CreatedAt        time.Time
}

func (FindingRecord) TableName() string { return "crossleak_findings" }

type Store struct {
	db *gorm.DB
}

// NewStore migrates the schema on db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("nil database")
	}
	if err := db.AutoMigrate(&ContractRecord{}, &FindingRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveContract(ctx context.Context, rec ContractRecord) error {
	rec.Address = strings.ToLower(rec.Address)
	rec.Implementation = strings.ToLower(rec.Implementation)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

func (s *Store) GetContract(ctx context.Context, address string) (*ContractRecord, error) {
	var rec ContractRecord
	err := s.db.WithContext(ctx).Where("address = ?", strings.ToLower(address)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) SaveFinding(ctx context.Context, f report.Finding) error {
	args, err := json.Marshal(f.Arguments)
	if err != nil {
		return err
	}
	oracleArgs, err := json.Marshal(f.OracleArgs)
	if err != nil {
		return err
	}
	foundAt := f.FoundAt
	if foundAt.IsZero() {
		foundAt = time.Now().UTC()
	}
	rec := FindingRecord{
		Victim:           strings.ToLower(f.Victim),
		VictimTxHash:     f.VictimTxHash,
		VictimFunction:   f.VictimFunction,
		Kind:             f.Kind,
		Dapp:             f.Dapp,
		TargetContract:   strings.ToLower(f.TargetContract),
		TargetFunction:   f.TargetFunction,
		TargetTxHash:     f.TargetTxHash,
		RelatedSignature: f.RelatedSignature,
		RelatedName:      f.RelatedName,
		Input:            f.Input,
		Value:            f.Value,
		Arguments:        string(args),
		OracleArgs:       string(oracleArgs),
		FoundAt:          foundAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// ListFindings returns the findings of victim in insertion order.
func (s *Store) ListFindings(ctx context.Context, victim string) ([]report.Finding, error) {
	var recs []FindingRecord
	err := s.db.WithContext(ctx).
		Where("victim = ?", strings.ToLower(victim)).
		Order("id asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]report.Finding, 0, len(recs))
	for _, r := range recs {
		f := report.Finding{
			Victim:           r.Victim,
			VictimTxHash:     r.VictimTxHash,
			VictimFunction:   r.VictimFunction,
			Kind:             r.Kind,
			Dapp:             r.Dapp,
			TargetContract:   r.TargetContract,
			TargetFunction:   r.TargetFunction,
			TargetTxHash:     r.TargetTxHash,
			RelatedSignature: r.RelatedSignature,
			RelatedName:      r.RelatedName,
			Input:            r.Input,
			Value:            r.Value,
			FoundAt:          r.FoundAt,
		}
		_ = json.Unmarshal([]byte(r.Arguments), &f.Arguments)
		_ = json.Unmarshal([]byte(r.OracleArgs), &f.OracleArgs)
		out = append(out, f)
	}
	return out, nil
}

// CountFindings groups finding counts by victim.
func (s *Store) CountFindings(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Victim string
		Total  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&FindingRecord{}).
		Select("victim, count(*) as total").
		Group("victim").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Victim] = r.Total
	}
	return out, nil
}
