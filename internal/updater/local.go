package updater

import (
	"context"

	"github.com/ZebulonRouseFrantzich/keel/internal/envelope"
	"github.com/ZebulonRouseFrantzich/keel/internal/store"
	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
	"github.com/ZebulonRouseFrantzich/keel/internal/verify"
)

// LocalVersion re-verifies the installed manifest and bundle without network
// access and makes them current. It returns a NotFound error when nothing is
// installed.
//
// The trust store is chosen by the manifest's own target environment, read
// before the signature is checked: the environment is needed to know which
// keys to check against. An expired manifest is accepted and logged; only
// the blacklist decides whether an installed build keeps running.
func (o *Orchestrator) LocalVersion(ctx context.Context) (*envelope.Manifest, error) {
	if interrupted, err := o.store.Interrupted(); err != nil {
		o.logger.Warn("could not read install journal", "error", err)
	} else {
		for _, txn := range interrupted {
			o.logger.Warn("previous install did not complete",
				"id", txn.ID, "version", txn.WebappVersion, "stage", string(txn.Stage), "error", txn.LastError)
		}
	}

	raw, err := o.store.ReadManifest()
	if err != nil {
		return nil, err
	}
	env, err := envelope.Decode(raw)
	if err != nil {
		return nil, err
	}
	unverified, err := env.Manifest()
	if err != nil {
		return nil, err
	}
	target := unverified.TargetEnvironment

	m, err := o.verifyEnvelope(ctx, env, target)
	if err != nil {
		return nil, err
	}

	expired, err := o.verifier.VerifyInstalledManifest(m, verify.Current{
		WebappVersion:     m.WebappVersionNumber,
		WebappEnvironment: m.TargetEnvironment,
		ClientVersion:     o.cfg.ClientVersion,
	})
	if err != nil {
		return nil, err
	}
	if expired {
		o.logger.Warn("installed manifest is expired", "version", m.WebappVersionNumber, "expiresOn", m.ExpiresOn)
	}

	bundleName := store.BundleFileName(m.FileChecksum)
	if !o.store.HasBundle(bundleName) {
		return nil, updateerr.NotFound("installed bundle %s is missing", bundleName)
	}
	if err := o.verifier.VerifyStoredFile(ctx, bundleName, m.FileChecksum); err != nil {
		return nil, err
	}

	o.setCurrent(Current{WebappVersion: m.WebappVersionNumber, Environment: m.TargetEnvironment})
	o.logger.Info("local version verified", "version", m.WebappVersionNumber, "environment", m.TargetEnvironment)
	return m, nil
}
