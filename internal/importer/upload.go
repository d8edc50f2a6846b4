package importer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/episode"
	"github.com/fyrsmithlabs/pcdimport/internal/layout"
	"github.com/fyrsmithlabs/pcdimport/internal/platform"
)

// pointcloudItems attaches each point cloud's frame from the inverse frame
// map. paths and names are parallel.
func pointcloudItems(dataset string, paths, names []string, frames episode.FrameMap) ([]platform.PointcloudUpload, error) {
	if len(paths) != len(names) {
		return nil, fmt.Errorf("dataset %s: %w: %d paths, %d names", dataset, ErrLengthMismatch, len(paths), len(names))
	}
	inverse, err := frames.Inverse()
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", dataset, err)
	}

	items := make([]platform.PointcloudUpload, len(names))
	for idx, name := range names {
		frame, ok := inverse[name]
		if !ok {
			return nil, &LookupError{Dataset: dataset, Name: name}
		}
		items[idx] = platform.PointcloudUpload{
			Name: name,
			Path: paths[idx],
			Meta: platform.PointcloudMeta{Frame: frame},
		}
	}
	return items, nil
}

// UploadPointclouds uploads the point clouds of a dataset in one batch, each
// tagged with its frame index. The result is in upload order.
func (i *Importer) UploadPointclouds(ctx context.Context, datasetID int, datasetName string, paths, names []string, frames episode.FrameMap) ([]platform.PointcloudInfo, error) {
	ctx, span := i.tracer.Start(ctx, "importer.pointclouds")
	defer span.End()

	items, err := pointcloudItems(datasetName, paths, names, frames)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("pointclouds", len(items)))
	if len(items) == 0 {
		i.logger.Warn(ctx, "dataset has no point clouds")
		return []platform.PointcloudInfo{}, nil
	}

	cb := i.progress("Uploading pointclouds: "+datasetName, int64(len(items)), false)
	infos, err := i.client.UploadPointclouds(ctx, datasetID, items, cb)
	if err != nil {
		return nil, fail(span, fmt.Errorf("uploading point clouds of %s: %w", datasetName, err))
	}
	if len(infos) != len(items) {
		return nil, fail(span, fmt.Errorf("uploading point clouds of %s: sent %d, platform returned %d", datasetName, len(items), len(infos)))
	}

	i.metrics.PointcloudsUploaded.Add(float64(len(infos)))
	i.logger.Info(ctx, "point clouds uploaded", zap.Int("count", len(infos)))
	return infos, nil
}

// orphanFrames returns the annotated frames that have no point cloud, in
// annotation order.
func orphanFrames(ann *episode.Annotation, frameIDs map[int]int) []int {
	var orphans []int
	for _, fr := range ann.Frames {
		if _, ok := frameIDs[fr.Index]; !ok {
			orphans = append(orphans, fr.Index)
		}
	}
	return orphans
}

// UploadAnnotation pushes the episode annotation of a dataset: episode tags,
// objects not yet in ids, and figures bound to the uploaded point clouds.
// Objects created here are recorded in ids.
func (i *Importer) UploadAnnotation(ctx context.Context, datasetID int, datasetName string, pcds []platform.PointcloudInfo, ann *episode.Annotation, ids *episode.KeyIDMap) error {
	ctx, span := i.tracer.Start(ctx, "importer.annotation")
	defer span.End()

	frameIDs := make(map[int]int, len(pcds))
	for _, pc := range pcds {
		frameIDs[pc.Frame] = pc.ID
	}

	orphans := orphanFrames(ann, frameIDs)
	if len(orphans) > 0 && i.config.StrictFrames {
		return fail(span, &OrphanFrameError{Dataset: datasetName, Frame: orphans[0]})
	}
	for _, frame := range orphans {
		i.logger.Warn(ctx, "annotation frame has no point cloud, skipping its figures", zap.Int("frame", frame))
		i.metrics.OrphanFramesSkipped.Inc()
	}

	if len(ann.Tags) > 0 {
		if err := i.client.AddEpisodeTags(ctx, datasetID, ann.Tags); err != nil {
			return fail(span, fmt.Errorf("adding episode tags: %w", err))
		}
	}

	var create []platform.ObjectCreate
	reused := 0
	for _, obj := range ann.Objects {
		if _, ok := ids.Get(obj.Key); ok {
			reused++
			continue
		}
		create = append(create, platform.ObjectCreate{Key: obj.Key, ClassTitle: obj.ClassTitle, Tags: obj.Tags})
	}
	if len(create) > 0 {
		created, err := i.client.CreateObjects(ctx, datasetID, create)
		if err != nil {
			return fail(span, fmt.Errorf("creating objects: %w", err))
		}
		if len(created) != len(create) {
			return fail(span, fmt.Errorf("creating objects: sent %d, platform returned %d ids", len(create), len(created)))
		}
		for idx, obj := range create {
			if err := ids.Add(obj.Key, created[idx]); err != nil {
				return fail(span, err)
			}
		}
	}
	i.metrics.Objects.WithLabelValues("created").Add(float64(len(create)))
	i.metrics.Objects.WithLabelValues("reused").Add(float64(reused))

	var figures []platform.FigureCreate
	for _, fr := range ann.Frames {
		entityID, ok := frameIDs[fr.Index]
		if !ok {
			continue
		}
		for _, fig := range fr.Figures {
			objectID, ok := ids.Get(fig.ObjectKey)
			if !ok {
				return fail(span, fmt.Errorf("frame %d: figure references object %q that was never created", fr.Index, fig.ObjectKey))
			}
			figures = append(figures, platform.FigureCreate{
				Key:          fig.Key,
				ObjectID:     objectID,
				EntityID:     entityID,
				GeometryType: fig.GeometryType,
				Geometry:     fig.Geometry,
			})
		}
	}
	if len(figures) > 0 {
		if _, err := i.client.CreateFigures(ctx, datasetID, figures); err != nil {
			return fail(span, fmt.Errorf("creating figures: %w", err))
		}
		i.metrics.FiguresCreated.Add(float64(len(figures)))
	}

	span.SetAttributes(
		attribute.Int("objects.created", len(create)),
		attribute.Int("objects.reused", reused),
		attribute.Int("figures", len(figures)),
		attribute.Int("frames.orphaned", len(orphans)),
	)
	i.logger.Info(ctx, "annotation uploaded",
		zap.Int("objects_created", len(create)),
		zap.Int("objects_reused", reused),
		zap.Int("figures", len(figures)),
	)
	return nil
}

// photo is one related image of a point cloud, sidecar already read.
type photo struct {
	// owner indexes the point cloud the photo belongs to.
	owner   int
	image   layout.RelatedImage
	sidecar layout.ImageSidecar
}

// collectPhotos pairs the related images of every named point cloud with
// their sidecars.
func collectPhotos(relatedDir string, names []string) ([]photo, error) {
	var photos []photo
	for owner, name := range names {
		pairs, err := layout.RelatedImages(layout.RelatedDirFor(relatedDir, name))
		if err != nil {
			return nil, err
		}
		for _, pair := range pairs {
			sc, err := layout.ReadSidecar(pair)
			if err != nil {
				return nil, err
			}
			photos = append(photos, photo{owner: owner, image: pair, sidecar: sc})
		}
	}
	return photos, nil
}

// UploadPhotoContext uploads the related images of every point cloud and
// links each one to its point cloud. Images and sidecars are joined by file
// name and hashes are matched to images by path.
func (i *Importer) UploadPhotoContext(ctx context.Context, datasetName string, pcds []platform.PointcloudInfo, relatedDir string) error {
	ctx, span := i.tracer.Start(ctx, "importer.photo_context")
	defer span.End()

	names := make([]string, len(pcds))
	for idx, pc := range pcds {
		names[idx] = pc.Name
	}
	photos, err := collectPhotos(relatedDir, names)
	if err != nil {
		return fail(span, err)
	}
	span.SetAttributes(attribute.Int("images", len(photos)))
	if len(photos) == 0 {
		i.logger.Debug(ctx, "no related images")
		return nil
	}

	paths := make([]string, len(photos))
	for idx, p := range photos {
		paths[idx] = p.image.ImagePath
	}
	cb := i.progress("Uploading photo context: "+datasetName, int64(len(paths)), false)
	hashes, err := i.client.UploadRelatedImages(ctx, paths, cb)
	if err != nil {
		return fail(span, fmt.Errorf("uploading related images: %w", err))
	}
	if len(hashes) != len(paths) {
		return fail(span, &SequenceError{Dataset: datasetName, Images: len(paths), Hashes: len(hashes)})
	}
	i.metrics.RelatedImagesUploaded.Add(float64(len(hashes)))

	byPath := make(map[string]string, len(paths))
	for idx, p := range paths {
		byPath[p] = hashes[idx]
	}

	links := make([]platform.RelatedImageLink, len(photos))
	for idx, p := range photos {
		links[idx] = platform.RelatedImageLink{
			EntityID: pcds[p.owner].ID,
			Name:     p.sidecar.Name,
			Hash:     byPath[p.image.ImagePath],
			Meta:     p.sidecar.Meta,
		}
	}
	if err := i.client.AddRelatedImages(ctx, links); err != nil {
		return fail(span, fmt.Errorf("linking related images: %w", err))
	}
	i.metrics.RelatedImageLinks.Add(float64(len(links)))

	i.logger.Info(ctx, "photo context uploaded", zap.Int("images", len(links)))
	return nil
}
