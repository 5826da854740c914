package workdir

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/Azure/go-autorest/autorest/adal"
)

// AzureBackup mirrors corpus/coverage dumps to a container in Azure Blob
// Storage, the optional durable-backup leg of SPEC_FULL.md's DOMAIN STACK
// section. It authenticates via an ADAL-fetched bearer token rather than a
// shared-key connection string, so a campaign can run under a managed
// identity in CI without embedding storage keys.
type AzureBackup struct {
	containerURL azblob.ContainerURL
}

// AzureBackupConfig names the storage account/container and the AAD
// client credentials used to mint the ADAL token.
type AzureBackupConfig struct {
	AccountURL   string // e.g. https://<account>.blob.core.windows.net
	Container    string
	TenantID     string
	ClientID     string
	ClientSecret string
}

func NewAzureBackup(ctx context.Context, cfg AzureBackupConfig) (*AzureBackup, error) {
	oauthCfg, err := adal.NewOAuthConfig("https://login.microsoftonline.com", cfg.TenantID)
	if err != nil {
		return nil, fmt.Errorf("workdir: azure oauth config: %w", err)
	}
	spt, err := adal.NewServicePrincipalToken(*oauthCfg, cfg.ClientID, cfg.ClientSecret, "https://storage.azure.com/")
	if err != nil {
		return nil, fmt.Errorf("workdir: azure service principal token: %w", err)
	}
	if err := spt.RefreshWithContext(ctx); err != nil {
		return nil, fmt.Errorf("workdir: azure token refresh: %w", err)
	}

	const refreshInterval = 30 * time.Minute
	credential := azblob.NewTokenCredential(spt.Token().AccessToken, func(credential azblob.TokenCredential) time.Duration {
		if err := spt.RefreshWithContext(ctx); err != nil {
			log.Warn("azure token refresh failed", "err", err)
			return 0
		}
		credential.SetToken(spt.Token().AccessToken)
		return refreshInterval
	})

	p := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	accountURL, err := url.Parse(cfg.AccountURL)
	if err != nil {
		return nil, fmt.Errorf("workdir: parse azure account url: %w", err)
	}
	serviceURL := azblob.NewServiceURL(*accountURL, p)
	return &AzureBackup{containerURL: serviceURL.NewContainerURL(cfg.Container)}, nil
}

// UploadFile mirrors a single work_dir file under the same relative path
// in the container.
func (b *AzureBackup) UploadFile(ctx context.Context, localPath, blobName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("workdir: open %s for azure upload: %w", localPath, err)
	}
	defer f.Close()

	blobURL := b.containerURL.NewBlockBlobURL(blobName)
	_, err = azblob.UploadStreamToBlockBlob(ctx, f, blobURL, azblob.UploadStreamToBlockBlobOptions{})
	if err != nil {
		return fmt.Errorf("workdir: upload %s: %w", blobName, err)
	}
	return nil
}
