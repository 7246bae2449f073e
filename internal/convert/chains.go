package convert

import (
	"github.com/yourusername/convert-forge/internal/layout"
	"github.com/yourusername/convert-forge/internal/profile"
	"github.com/yourusername/convert-forge/internal/transform"
)

// Dependencies は既定チェーンを組み立てるためのコラボレーター群です。
// nil のコラボレーターを使うティアは ServiceUnavailable で失敗し、次のティアへ進みます。
type Dependencies struct {
	Files         Files
	Profiles      *profile.Resolver
	Cloud         transform.Transformer
	Parser        Parser
	Reconstructor layout.Reconstructor
	Image         transform.Transformer
	Video         transform.Transformer
	Doc           transform.Transformer
	ImagesToPDF   transform.Transformer
}

// NewDefaultDispatcher は全ジョブ種別の標準チェーンを登録した Dispatcher を返します。
// 診断レポートはチェーンに含めず、Executor が枯渇時に実行します。
func NewDefaultDispatcher(deps Dependencies) *Dispatcher {
	profiles := deps.Profiles
	if profiles == nil {
		profiles = profile.NewResolver()
	}
	files := deps.Files

	d := NewDispatcher()

	d.Register(ConvertDocToText,
		&transformTier{
			name:        TierCloudTransform,
			files:       files,
			transformer: deps.Cloud,
			accept:      []string{"application/pdf"},
			outputExt:   fixedExt("docx"),
		},
		&textExtractionTier{
			files:         files,
			parser:        deps.Parser,
			reconstructor: deps.Reconstructor,
		},
	)

	d.Register(ImageToDoc,
		&transformTier{
			name:        TierCloudTransform,
			files:       files,
			transformer: deps.Cloud,
			accept:      []string{"image/"},
			outputExt:   fixedExt("pdf"),
		},
		&transformTier{
			name:        TierLocalImageToPDF,
			files:       files,
			transformer: deps.ImagesToPDF,
			accept:      []string{"image/"},
			outputExt:   fixedExt("pdf"),
		},
	)

	d.Register(CompressImage,
		&transformTier{
			name:        TierImageCompression,
			files:       files,
			transformer: deps.Image,
			accept:      []string{"image/"},
			outputExt:   imageOutputExt,
			kind:        profile.KindImage,
			profiles:    profiles,
		},
	)

	d.Register(CompressVideo,
		&transformTier{
			name:        TierVideoTransform,
			files:       files,
			transformer: preferConfigured{deps.Cloud, deps.Video},
			accept:      []string{"video/"},
			outputExt:   fixedExt("mp4"),
			kind:        profile.KindVideo,
			profiles:    profiles,
		},
		&rawCopyTier{files: files},
	)

	d.Register(CompressDoc,
		&transformTier{
			name:        TierDocTransform,
			files:       files,
			transformer: preferConfigured{deps.Cloud, deps.Doc},
			accept:      []string{"application/pdf"},
			outputExt:   fixedExt("pdf"),
			kind:        profile.KindDocument,
			profiles:    profiles,
		},
		&rawCopyTier{files: files},
	)

	return d
}
