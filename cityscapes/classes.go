// Package cityscapes provides access to the Cityscapes semantic segmentation
// dataset (https://www.cityscapes-dataset.com/), in the standard
// leftImg8bit/gtFine directory layout.
//
// It exposes the official class table (including the "void" classes that are
// ignored during evaluation) and a train.Dataset implementation that yields
// batches of images and their per-pixel label maps.
package cityscapes

import "image/color"

// Class describes one entry of the official Cityscapes label table.
type Class struct {
	// Name of the class, e.g. "road".
	Name string

	// ID is the raw label id stored in the `*_gtFine_labelIds.png` masks.
	ID int

	// TrainID is the id used during training: the 19 evaluated classes map
	// to 0..18, void classes map to 255 and the license plate to -1.
	TrainID int

	// Category groups classes, e.g. "flat", "construction", "vehicle".
	Category string

	// CategoryID is the numeric id of Category.
	CategoryID int

	// HasInstances is set for classes with instance-level annotations.
	HasInstances bool

	// IgnoreInEval is set for classes excluded from the evaluation.
	IgnoreInEval bool

	// Color used to render the class in visualizations.
	Color color.RGBA
}

func rgb(r, g, b uint8) color.RGBA { return color.RGBA{R: r, G: g, B: b, A: 0xFF} }

// Classes is the official Cityscapes label table, in label-id order, with the
// out-of-band "license plate" entry last.
var Classes = []Class{
	{"unlabeled", 0, 255, "void", 0, false, true, rgb(0, 0, 0)},
	{"ego vehicle", 1, 255, "void", 0, false, true, rgb(0, 0, 0)},
	{"rectification border", 2, 255, "void", 0, false, true, rgb(0, 0, 0)},
	{"out of roi", 3, 255, "void", 0, false, true, rgb(0, 0, 0)},
	{"static", 4, 255, "void", 0, false, true, rgb(0, 0, 0)},
	{"dynamic", 5, 255, "void", 0, false, true, rgb(111, 74, 0)},
	{"ground", 6, 255, "void", 0, false, true, rgb(81, 0, 81)},
	{"road", 7, 0, "flat", 1, false, false, rgb(128, 64, 128)},
	{"sidewalk", 8, 1, "flat", 1, false, false, rgb(244, 35, 232)},
	{"parking", 9, 255, "flat", 1, false, true, rgb(250, 170, 160)},
	{"rail track", 10, 255, "flat", 1, false, true, rgb(230, 150, 140)},
	{"building", 11, 2, "construction", 2, false, false, rgb(70, 70, 70)},
	{"wall", 12, 3, "construction", 2, false, false, rgb(102, 102, 156)},
	{"fence", 13, 4, "construction", 2, false, false, rgb(190, 153, 153)},
	{"guard rail", 14, 255, "construction", 2, false, true, rgb(180, 165, 180)},
	{"bridge", 15, 255, "construction", 2, false, true, rgb(150, 100, 100)},
	{"tunnel", 16, 255, "construction", 2, false, true, rgb(150, 120, 90)},
	{"pole", 17, 5, "object", 3, false, false, rgb(153, 153, 153)},
	{"polegroup", 18, 255, "object", 3, false, true, rgb(153, 153, 153)},
	{"traffic light", 19, 6, "object", 3, false, false, rgb(250, 170, 30)},
	{"traffic sign", 20, 7, "object", 3, false, false, rgb(220, 220, 0)},
	{"vegetation", 21, 8, "nature", 4, false, false, rgb(107, 142, 35)},
	{"terrain", 22, 9, "nature", 4, false, false, rgb(152, 251, 152)},
	{"sky", 23, 10, "sky", 5, false, false, rgb(70, 130, 180)},
	{"person", 24, 11, "human", 6, true, false, rgb(220, 20, 60)},
	{"rider", 25, 12, "human", 6, true, false, rgb(255, 0, 0)},
	{"car", 26, 13, "vehicle", 7, true, false, rgb(0, 0, 142)},
	{"truck", 27, 14, "vehicle", 7, true, false, rgb(0, 0, 70)},
	{"bus", 28, 15, "vehicle", 7, true, false, rgb(0, 60, 100)},
	{"caravan", 29, 255, "vehicle", 7, true, true, rgb(0, 0, 90)},
	{"trailer", 30, 255, "vehicle", 7, true, true, rgb(0, 0, 110)},
	{"train", 31, 16, "vehicle", 7, true, false, rgb(0, 80, 100)},
	{"motorcycle", 32, 17, "vehicle", 7, true, false, rgb(0, 0, 230)},
	{"bicycle", 33, 18, "vehicle", 7, true, false, rgb(119, 11, 32)},
	{"license plate", -1, -1, "vehicle", 7, false, true, rgb(0, 0, 142)},
}

// NumClasses is the number of raw label ids (0 to NumClasses-1) used in the
// `labelIds` masks. The license plate entry (-1) is not counted.
const NumClasses = 34

// NumTrainClasses is the number of classes evaluated during training.
const NumTrainClasses = 19

// VoidTrainID marks pixels that belong to none of the evaluated classes.
const VoidTrainID = 255

// TrainIDForLabel maps a raw label id (as stored in the masks) to its train
// id. Unknown or negative ids map to VoidTrainID.
func TrainIDForLabel(labelID int) int {
	for _, c := range Classes {
		if c.ID == labelID && c.ID >= 0 {
			return c.TrainID
		}
	}
	return VoidTrainID
}
