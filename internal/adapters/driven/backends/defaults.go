package backends

import (
	"github.com/custodia-labs/nestsync/internal/adapters/driven/backends/dropbox"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/backends/gdrive"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/backends/localfolder"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/backends/objectstore"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/backends/sftp"
	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// RegisterDefaults registers every built-in provider with the factory.
func RegisterDefaults(f *Factory) {
	f.Register(domain.ProviderLocalFolder, localfolder.New)
	f.Register(domain.ProviderDriveOAuth, gdrive.New)
	f.Register(domain.ProviderTokenCloud, dropbox.New)
	f.Register(domain.ProviderSFTP, sftp.New)
	f.Register(domain.ProviderObjectStore, objectstore.New)
}
