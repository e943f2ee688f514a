package server

import (
	"cellxplore/internal/blob"
	"cellxplore/internal/config"
	"cellxplore/internal/query"
	"cellxplore/internal/store"
	"cellxplore/internal/vizconfig"
)

// BlobOptions maps the blob section of cfg onto the blob factory options.
func BlobOptions(cfg *config.Config) blob.Options {
	s3 := cfg.Blob.S3
	return blob.Options{
		Driver: blob.Driver(cfg.Blob.Driver),
		FSRoot: cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          s3.Region,
			Bucket:          s3.Bucket,
			Prefix:          s3.Prefix,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			SessionToken:    s3.SessionToken,
			PathStyle:       s3.PathStyle,
		},
	}
}

// StoreOptions maps the store section of cfg onto store handle options.
func StoreOptions(cfg *config.Config) store.Options {
	return store.Options{
		Path:             cfg.Store.Path,
		SubTables:        cfg.Store.SubTables,
		InteractionTable: cfg.Store.InteractionTable,
		ObsTypeColumn:    cfg.Store.ObsTypeColumn,
		CacheSize:        cfg.Store.TableCacheSize,
	}
}

// Pipeline builds the query pipeline from the configured aliases and
// thresholds. Empty alias lists fall back to the defaults.
func Pipeline(cfg *config.Config) query.Pipeline {
	schema := query.DefaultSchema()
	a := cfg.Query.Aliases
	pick := func(configured, def []string) []string {
		if len(configured) == 0 {
			return def
		}
		return configured
	}
	schema.Source = pick(a.Source, schema.Source)
	schema.Target = pick(a.Target, schema.Target)
	schema.Ligand = pick(a.Ligand, schema.Ligand)
	schema.Receptor = pick(a.Receptor, schema.Receptor)
	schema.Probability = pick(a.Probability, schema.Probability)
	schema.PValue = pick(a.PValue, schema.PValue)
	return query.New(schema, query.Thresholds{
		MinProbability: cfg.Query.MinProbability,
		MaxPValue:      cfg.Query.MaxPValue,
	})
}

// VizSettings maps the viz section of cfg onto document settings.
func VizSettings(cfg *config.Config) vizconfig.Settings {
	v := cfg.Viz
	s := vizconfig.Settings{
		Name:          v.Name,
		Description:   v.Description,
		DatasetName:   v.DatasetName,
		StorePath:     cfg.Store.Path,
		EmbeddingPath: v.EmbeddingPath,
		EmbeddingName: v.EmbeddingName,
		ObsSetPath:    v.ObsSetPath,
		ObsSetName:    v.ObsSetName,
		FeatureMatrix: v.FeatureMatrix,
		SpatialPath:   v.SpatialPath,
	}
	for _, sm := range v.Samples {
		s.Samples = append(s.Samples, vizconfig.Sample{Name: sm.Name, Path: sm.Path})
	}
	return s
}

func rewrites(cfg *config.Config) map[string]string {
	out := make(map[string]string, len(cfg.Datasets.Rewrites))
	for _, r := range cfg.Datasets.Rewrites {
		out[r.From] = r.To
	}
	return out
}
