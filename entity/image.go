package entity

import "image"

// ImageEntry 是一张待保存的结果图片，三种来源只需填写其一。
type ImageEntry struct {
	Name string
	// Image 会被重新编码为 PNG。
	Image image.Image
	// Path 指向的文件按原始字节读入。
	Path string
	// Bytes 是已经编码好的图片数据。
	Bytes []byte
}

// Images 是保持顺序的图片列表，位置决定图片槽位。
type Images []ImageEntry

func ImageFromImage(name string, img image.Image) ImageEntry {
	return ImageEntry{Name: name, Image: img}
}

func ImageFromPath(name, path string) ImageEntry {
	return ImageEntry{Name: name, Path: path}
}

func ImageFromBytes(name string, data []byte) ImageEntry {
	return ImageEntry{Name: name, Bytes: data}
}

// ResultRecord 是 result_<task> 中的一行，指标与图片分开。
type ResultRecord struct {
	ExperimentID int64             `json:"experiment_id"`
	Metrics      map[string]any    `json:"metrics"`
	Images       map[string][]byte `json:"-"`
	ImageNames   []string          `json:"image_names"`
}
